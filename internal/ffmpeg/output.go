package ffmpeg

import (
	"path/filepath"
	"strconv"
	"strings"

	"renderpipe/internal/project"
)

// OutputOptions selects the streams and encoder for one output.
type OutputOptions struct {
	Graph        FilterGraph
	VideoEncoder string
	Duration     float64
	Threads      int
	OutputPath   string
}

// OutputBuilder emits stream mapping, codec, and container flags from the
// project's export settings.
type OutputBuilder struct {
	settings project.Settings
}

// NewOutputBuilder constructs an OutputBuilder for p.
func NewOutputBuilder(p *project.Schema) *OutputBuilder {
	return &OutputBuilder{settings: p.Settings}
}

// AddOutputOptions appends mapping, codec, and muxer flags followed by the
// output path.
func (b *OutputBuilder) AddOutputOptions(cmd *Command, opts OutputOptions) {
	export := b.settings.Export

	if opts.Graph.VideoLabel != "" {
		cmd.Add("-map", opts.Graph.VideoLabel)
		b.addVideoCodec(cmd, opts.VideoEncoder)
	} else {
		cmd.Add("-vn")
	}

	if opts.Graph.AudioLabel != "" {
		cmd.Add("-map", opts.Graph.AudioLabel)
		cmd.Add("-c:a", AudioEncoder(export.AudioCodec))
		if bitrate := strings.TrimSpace(export.AudioBitrate); bitrate != "" {
			cmd.Add("-b:a", bitrate)
		}
		if export.SampleRate > 0 {
			cmd.Add("-ar", strconv.Itoa(export.SampleRate))
		}
		if export.Channels > 0 {
			cmd.Add("-ac", strconv.Itoa(export.Channels))
		}
	} else {
		cmd.Add("-an")
	}

	if opts.Threads > 0 {
		cmd.Add("-threads", strconv.Itoa(opts.Threads))
	}
	if opts.Duration > 0 {
		cmd.Add("-t", formatSeconds(opts.Duration))
	}
	format := ContainerFormat(export.Format, opts.OutputPath)
	if format == "mp4" || format == "mov" {
		cmd.Add("-movflags", "+faststart")
	}
	if format != "" {
		cmd.Add("-f", format)
	}
	cmd.Add(opts.OutputPath)
	cmd.OutputPath = opts.OutputPath
}

func (b *OutputBuilder) addVideoCodec(cmd *Command, encoder string) {
	export := b.settings.Export
	if encoder == "" {
		encoder = SoftwareEncoder(export.VideoCodec)
	}
	cmd.Add("-c:v", encoder)

	preset := strings.TrimSpace(export.Preset)
	switch {
	case strings.HasSuffix(encoder, "_nvenc"):
		if preset != "" {
			cmd.Add("-preset", preset)
		}
		if export.CRF > 0 {
			cmd.Add("-cq", strconv.Itoa(export.CRF))
		}
	case strings.HasSuffix(encoder, "_vaapi"), strings.HasSuffix(encoder, "_qsv"):
		if export.CRF > 0 {
			cmd.Add("-global_quality", strconv.Itoa(export.CRF))
		}
	case strings.HasSuffix(encoder, "_videotoolbox"):
		if export.CRF > 0 {
			cmd.Add("-q:v", strconv.Itoa(clampInt(100-export.CRF*2, 1, 100)))
		}
	default:
		if preset != "" && (encoder == "libx264" || encoder == "libx265" || encoder == "libsvtav1") {
			cmd.Add("-preset", preset)
		}
		if export.CRF > 0 {
			cmd.Add("-crf", strconv.Itoa(export.CRF))
			if strings.HasPrefix(encoder, "libvpx") && strings.TrimSpace(export.VideoBitrate) == "" {
				cmd.Add("-b:v", "0")
			}
		}
	}
	if bitrate := strings.TrimSpace(export.VideoBitrate); bitrate != "" {
		cmd.Add("-b:v", bitrate)
	}
	if !strings.HasSuffix(encoder, "_vaapi") && export.PixelFormat != "" {
		cmd.Add("-pix_fmt", export.PixelFormat)
	}
	if b.settings.FrameRate > 0 {
		cmd.Add("-r", formatSeconds(b.settings.FrameRate))
	}
}

// AudioEncoder maps an export audio codec onto an ffmpeg encoder.
func AudioEncoder(codec string) string {
	switch c := strings.ToLower(strings.TrimSpace(codec)); c {
	case "", "aac":
		return "aac"
	case "mp3":
		return "libmp3lame"
	case "opus":
		return "libopus"
	case "vorbis":
		return "libvorbis"
	case "pcm", "wav":
		return "pcm_s16le"
	default:
		return c
	}
}

// ContainerFormat resolves the muxer name from the export format, falling back
// to the output extension.
func ContainerFormat(format, outputPath string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(outputPath)), ".")
	}
	switch format {
	case "mkv", "matroska":
		return "matroska"
	case "mp4", "m4v":
		return "mp4"
	case "mov", "webm", "avi", "gif", "mp3", "wav", "flac", "ogg":
		return format
	case "jpg", "jpeg", "png":
		return "image2"
	default:
		return ""
	}
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
