package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"renderpipe/internal/config"
	"renderpipe/internal/project"
	"renderpipe/internal/services"
)

const vaapiDevice = "/dev/dri/renderD128"

// Options configures command synthesis.
type Options struct {
	Binary               string
	LogLevel             string
	HardwareAcceleration bool
	HWAccelMethod        string
	Threads              int
}

// OptionsFromConfig derives builder options from application config.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{Binary: "ffmpeg", HardwareAcceleration: true, HWAccelMethod: "auto"}
	}
	return Options{
		Binary:               cfg.FFmpegBinary(),
		LogLevel:             cfg.FFmpeg.LogLevel,
		HardwareAcceleration: cfg.FFmpeg.HardwareAcceleration,
		HWAccelMethod:        cfg.FFmpeg.HWAccelMethod,
		Threads:              cfg.FFmpeg.Threads,
	}
}

// Builder composes the input, filter, and output builders into complete
// transcoder commands.
type Builder struct {
	project *project.Schema
	opts    Options
	inputs  *InputBuilder
	filters *FilterBuilder
	outputs *OutputBuilder
}

// NewBuilder constructs a Builder for p.
func NewBuilder(p *project.Schema, opts Options) *Builder {
	return &Builder{
		project: p,
		opts:    opts,
		inputs:  NewInputBuilder(p, nil),
		filters: NewFilterBuilder(p),
		outputs: NewOutputBuilder(p),
	}
}

// Inputs exposes the input builder, e.g. for index lookups.
func (b *Builder) Inputs() *InputBuilder { return b.inputs }

// Filters exposes the filter builder.
func (b *Builder) Filters() *FilterBuilder { return b.filters }

// Options returns the builder's options.
func (b *Builder) Options() Options { return b.opts }

// SetGeneratedSources registers rendered files for generated clips.
func (b *Builder) SetGeneratedSources(generated map[string]string) {
	b.inputs.SetGeneratedSources(generated)
}

// UseHardware reports whether renders should try a hardware encoder for the
// project's video codec.
func (b *Builder) UseHardware() bool {
	return b.opts.HardwareAcceleration && b.project.Settings.HardwareAcceleration &&
		ShouldUseHardwareAcceleration(b.project.Settings.Export.VideoCodec)
}

// VideoEncoder returns the encoder a render would use. Passing false forces the
// software encoder.
func (b *Builder) VideoEncoder(allowHardware bool) (string, bool) {
	return SelectVideoEncoder(b.project.Settings.Export.VideoCodec, allowHardware && b.UseHardware(), b.opts.HWAccelMethod)
}

// BuildRenderCommand builds the full-timeline render into outputPath.
func (b *Builder) BuildRenderCommand(outputPath string, allowHardware bool) (Command, error) {
	sources := b.inputs.CollectInputSources()
	encoder, hardware := b.VideoEncoder(allowHardware)
	graph, err := b.filters.BuildFilterGraph(sources, GraphOptions{HWUpload: strings.HasSuffix(encoder, "_vaapi")})
	if err != nil {
		return Command{}, err
	}
	return b.assemble(sources, graph, encoder, hardware, b.project.Duration(), outputPath), nil
}

// BuildSegmentCommand builds a render of the timeline window [start, end).
func (b *Builder) BuildSegmentCommand(start, end float64, outputPath string, allowHardware bool) (Command, error) {
	if start < 0 || end <= start {
		return Command{}, services.Validation("segment", fmt.Sprintf("invalid window [%.3f, %.3f)", start, end))
	}
	sources := b.inputs.CollectSegmentSources(start, end)
	if len(sources) == 0 {
		return Command{}, services.Validation("segment", fmt.Sprintf("no clips intersect [%.3f, %.3f)", start, end))
	}
	encoder, hardware := b.VideoEncoder(allowHardware)
	graph, err := b.filters.BuildSegmentFilterGraph(sources, start, end, GraphOptions{HWUpload: strings.HasSuffix(encoder, "_vaapi")})
	if err != nil {
		return Command{}, err
	}
	return b.assemble(sources, graph, encoder, hardware, end-start, outputPath), nil
}

// BuildPreviewCommand renders the single frame at timestamp (seconds) as a
// JPEG at the requested resolution. quality runs 1 (worst) to 100 (best).
func (b *Builder) BuildPreviewCommand(timestamp float64, resolution project.Resolution, quality int, outputPath string) (Command, error) {
	if timestamp < 0 {
		return Command{}, services.Validation("preview", "timestamp must be >= 0")
	}
	frame := 1 / math.Max(1, b.project.Settings.FrameRate)
	sources := b.inputs.CollectSegmentSources(timestamp, timestamp+frame)
	var videoSources []InputSource
	for _, source := range sources {
		if source.TrackType == project.TrackVideo {
			videoSources = append(videoSources, source)
		}
	}
	if len(videoSources) == 0 {
		return Command{}, services.Validation("preview", fmt.Sprintf("no video at %.3fs", timestamp))
	}
	graph, err := b.filters.BuildSegmentFilterGraph(videoSources, timestamp, timestamp+frame, GraphOptions{Scale: &resolution})
	if err != nil {
		return Command{}, err
	}

	cmd := NewCommand(b.opts.Binary, b.opts.LogLevel)
	for _, source := range videoSources {
		b.inputs.AddInputSource(&cmd, source, nil)
	}
	cmd.Add("-filter_complex", graph.Graph, "-map", graph.VideoLabel)
	cmd.Add("-frames:v", "1", "-c:v", "mjpeg", "-q:v", strconv.Itoa(jpegQScale(quality)), "-f", "image2", outputPath)
	cmd.OutputPath = outputPath
	return cmd, nil
}

// BuildGeneratorCommand renders a generated clip source into outputPath using
// lavfi sources.
func (b *Builder) BuildGeneratorCommand(clip project.Clip, outputPath string) (Command, error) {
	gen := clip.Source.Generator
	if gen == nil {
		return Command{}, services.Validation("preprocessing", fmt.Sprintf("clip %s has no generator", clip.ID))
	}
	settings := b.project.Settings
	duration := clip.SourceStart + clip.SourceDuration
	if duration <= 0 {
		duration = clip.Duration()
	}
	size := fmt.Sprintf("%dx%d", settings.Resolution.Width, settings.Resolution.Height)
	rate := formatSeconds(settings.FrameRate)
	color := sanitizeColor(gen.Color)

	var source string
	var filters []string
	switch gen.Type {
	case project.GeneratorColor:
		source = fmt.Sprintf("color=c=%s:s=%s:r=%s:d=%s", color, size, rate, formatSeconds(duration))
	case project.GeneratorNoise:
		strength := gen.Strength
		if strength <= 0 {
			strength = 40
		}
		source = fmt.Sprintf("color=c=%s:s=%s:r=%s:d=%s", color, size, rate, formatSeconds(duration))
		filters = append(filters, fmt.Sprintf("noise=alls=%d:allf=t+u", int(math.Min(100, strength))))
	case project.GeneratorGradient:
		end := sanitizeColor(gen.ColorEnd)
		source = fmt.Sprintf("gradients=s=%s:r=%s:c0=%s:c1=%s:d=%s", size, rate, color, end, formatSeconds(duration))
	default:
		return Command{}, services.Validation("preprocessing", fmt.Sprintf("clip %s: unsupported generator %q", clip.ID, gen.Type))
	}

	cmd := NewCommand(b.opts.Binary, b.opts.LogLevel)
	cmd.Add("-f", "lavfi", "-i", source)
	filters = append(filters, "format="+settings.Export.PixelFormat)
	cmd.Add("-vf", strings.Join(filters, ","))
	cmd.Add("-c:v", "libx264", "-preset", "ultrafast", "-crf", "18", "-an", "-t", formatSeconds(duration), outputPath)
	cmd.OutputPath = outputPath
	return cmd, nil
}

func (b *Builder) assemble(sources []InputSource, graph FilterGraph, encoder string, hardware bool, duration float64, outputPath string) Command {
	cmd := NewCommand(b.opts.Binary, b.opts.LogLevel)
	var decodeAccel []string
	if hardware {
		if strings.HasSuffix(encoder, "_vaapi") {
			cmd.Add("-vaapi_device", vaapiDevice)
		}
		decodeAccel = DecodeAccelArgs(b.opts.HWAccelMethod)
	}
	for _, source := range sources {
		b.inputs.AddInputSource(&cmd, source, decodeAccel)
	}
	cmd.Add("-filter_complex", graph.Graph)
	b.outputs.AddOutputOptions(&cmd, OutputOptions{
		Graph:        graph,
		VideoEncoder: encoder,
		Duration:     duration,
		Threads:      b.opts.Threads,
		OutputPath:   outputPath,
	})
	return cmd
}

// jpegQScale maps 1..100 quality onto mjpeg's 31..2 qscale.
func jpegQScale(quality int) int {
	quality = clampInt(quality, 1, 100)
	return 31 - (quality-1)*29/99
}
