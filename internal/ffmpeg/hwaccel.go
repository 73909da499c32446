package ffmpeg

import (
	"runtime"
	"strings"
)

// NormalizeCodec maps codec aliases onto the names used for encoder selection.
func NormalizeCodec(codec string) string {
	switch c := strings.ToLower(strings.TrimSpace(codec)); c {
	case "h.264", "avc", "x264", "libx264":
		return "h264"
	case "h.265", "hevc", "x265", "libx265":
		return "h265"
	case "av01", "libsvtav1", "libaom-av1":
		return "av1"
	case "libvpx":
		return "vp8"
	case "libvpx-vp9":
		return "vp9"
	default:
		return c
	}
}

// ShouldUseHardwareAcceleration reports whether codec is normally encoded on a
// GPU. VP8 and VP9 stay on the software encoders.
func ShouldUseHardwareAcceleration(codec string) bool {
	switch NormalizeCodec(codec) {
	case "h264", "h265", "av1":
		return true
	default:
		return false
	}
}

// SoftwareEncoder returns the CPU encoder for codec.
func SoftwareEncoder(codec string) string {
	switch c := NormalizeCodec(codec); c {
	case "h264", "":
		return "libx264"
	case "h265":
		return "libx265"
	case "av1":
		return "libsvtav1"
	case "vp8":
		return "libvpx"
	case "vp9":
		return "libvpx-vp9"
	case "prores":
		return "prores_ks"
	default:
		return c
	}
}

// resolveMethod turns "auto" into a concrete backend for the host platform.
func resolveMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method != "" && method != "auto" {
		return method
	}
	if runtime.GOOS == "darwin" {
		return "videotoolbox"
	}
	return "vaapi"
}

// HardwareEncoder returns the GPU encoder for codec under the given backend.
func HardwareEncoder(codec, method string) (string, bool) {
	codec = NormalizeCodec(codec)
	if !ShouldUseHardwareAcceleration(codec) {
		return "", false
	}
	suffix := map[string]string{"h264": "h264", "h265": "hevc", "av1": "av1"}[codec]
	switch resolveMethod(method) {
	case "nvenc", "cuda":
		return suffix + "_nvenc", true
	case "vaapi":
		return suffix + "_vaapi", true
	case "qsv":
		return suffix + "_qsv", true
	case "videotoolbox":
		if codec == "av1" {
			return "", false
		}
		return suffix + "_videotoolbox", true
	default:
		return "", false
	}
}

// SelectVideoEncoder picks the encoder for codec. The second result reports
// whether the encoder is hardware backed.
func SelectVideoEncoder(codec string, allowHardware bool, method string) (string, bool) {
	if allowHardware && ShouldUseHardwareAcceleration(codec) {
		if encoder, ok := HardwareEncoder(codec, method); ok {
			return encoder, true
		}
	}
	return SoftwareEncoder(codec), false
}

// IsHardwareEncoder reports whether encoder names a GPU implementation.
func IsHardwareEncoder(encoder string) bool {
	for _, suffix := range []string{"_nvenc", "_vaapi", "_qsv", "_videotoolbox"} {
		if strings.HasSuffix(encoder, suffix) {
			return true
		}
	}
	return false
}

// DecodeAccelArgs returns the input option that enables hardware decoding.
func DecodeAccelArgs(method string) []string {
	switch m := resolveMethod(method); m {
	case "nvenc", "cuda":
		return []string{"-hwaccel", "cuda"}
	case "vaapi", "qsv", "videotoolbox":
		return []string{"-hwaccel", m}
	default:
		return []string{"-hwaccel", "auto"}
	}
}
