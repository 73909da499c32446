package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"renderpipe/internal/project"
	"renderpipe/internal/services"
)

// Effect and transition types the filter graph understands.
const (
	EffectBrightness = "brightness"
	EffectContrast   = "contrast"
	EffectSaturation = "saturation"
	EffectBlur       = "blur"
	EffectFadeIn     = "fade_in"
	EffectFadeOut    = "fade_out"

	TransitionFade      = "fade"
	TransitionCrossfade = "crossfade"
	TransitionDissolve  = "dissolve"
)

// SupportedEffect reports whether the filter graph can render effectType.
func SupportedEffect(effectType string) bool {
	switch strings.ToLower(strings.TrimSpace(effectType)) {
	case EffectBrightness, EffectContrast, EffectSaturation, EffectBlur, EffectFadeIn, EffectFadeOut:
		return true
	default:
		return false
	}
}

// SupportedTransition reports whether transitionType can be rendered.
func SupportedTransition(transitionType string) bool {
	switch strings.ToLower(strings.TrimSpace(transitionType)) {
	case TransitionFade, TransitionCrossfade, TransitionDissolve:
		return true
	default:
		return false
	}
}

// FilterGraph is a -filter_complex value plus the labels of its outputs. An
// empty label means the graph carries no stream of that type.
type FilterGraph struct {
	Graph      string
	VideoLabel string
	AudioLabel string
}

// GraphOptions adjusts the tail of the video chain.
type GraphOptions struct {
	// Scale resizes the composite, e.g. for preview frames.
	Scale *project.Resolution
	// HWUpload converts the composite into a VAAPI surface.
	HWUpload bool
}

// FilterBuilder composes clips onto a canvas sized by project settings.
type FilterBuilder struct {
	project *project.Schema
}

// NewFilterBuilder constructs a FilterBuilder over p.
func NewFilterBuilder(p *project.Schema) *FilterBuilder {
	return &FilterBuilder{project: p}
}

// HasVideoTracks reports whether an enabled video track holds clips.
func (b *FilterBuilder) HasVideoTracks() bool {
	return b.project.HasEnabledTrack(project.TrackVideo)
}

// HasAudioTracks reports whether an enabled audio track holds clips.
func (b *FilterBuilder) HasAudioTracks() bool {
	return b.project.HasEnabledTrack(project.TrackAudio)
}

// BuildFilterGraph builds the graph for a full render over sources, which must
// be in CollectInputSources order.
func (b *FilterBuilder) BuildFilterGraph(sources []InputSource, opts GraphOptions) (FilterGraph, error) {
	return b.build(sources, 0, b.project.Duration(), opts)
}

// BuildSegmentFilterGraph builds the graph for the timeline window [start, end)
// over sources from CollectSegmentSources.
func (b *FilterBuilder) BuildSegmentFilterGraph(sources []InputSource, start, end float64, opts GraphOptions) (FilterGraph, error) {
	if end <= start {
		return FilterGraph{}, services.Validation("composition", fmt.Sprintf("segment end %.3f must be after start %.3f", end, start))
	}
	return b.build(sources, start, end-start, opts)
}

func (b *FilterBuilder) build(sources []InputSource, windowStart, duration float64, opts GraphOptions) (FilterGraph, error) {
	if duration <= 0 {
		return FilterGraph{}, services.Validation("composition", "timeline duration must be positive")
	}
	settings := b.project.Settings
	width, height := settings.Resolution.Width, settings.Resolution.Height
	fps := formatSeconds(settings.FrameRate)

	var chains []string
	var videoInputs, audioInputs []string
	var subtitles []InputSource

	for idx, source := range sources {
		switch source.TrackType {
		case project.TrackVideo:
			label := "v" + strconv.Itoa(idx)
			filters := []string{
				fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height),
				fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black@0", width, height),
				"fps=" + fps,
				"format=yuva420p",
				fmt.Sprintf("setpts=PTS-STARTPTS+%s/TB", formatSeconds(source.TimelineStart)),
			}
			clipFilters, err := b.clipVideoFilters(source.ClipID, windowStart, duration)
			if err != nil {
				return FilterGraph{}, err
			}
			filters = append(filters, clipFilters...)
			chains = append(chains, fmt.Sprintf("[%d:v]%s[%s]", idx, strings.Join(filters, ","), label))
			videoInputs = append(videoInputs, label)
		case project.TrackAudio:
			label := "a" + strconv.Itoa(idx)
			filters := []string{"asetpts=PTS-STARTPTS", "volume=" + formatSeconds(source.Volume)}
			filters = append(filters, b.clipAudioFades(source, windowStart)...)
			delay := int64(math.Round(source.TimelineStart * 1000))
			if delay > 0 {
				filters = append(filters, fmt.Sprintf("adelay=%d:all=1", delay))
			}
			chains = append(chains, fmt.Sprintf("[%d:a]%s[%s]", idx, strings.Join(filters, ","), label))
			audioInputs = append(audioInputs, label)
		case project.TrackSubtitle:
			subtitles = append(subtitles, source)
		}
	}

	if len(videoInputs) == 0 && len(audioInputs) == 0 {
		return FilterGraph{}, services.Validation("composition", "no renderable video or audio inputs")
	}

	var graph FilterGraph
	if len(videoInputs) > 0 {
		chains = append(chains, fmt.Sprintf("color=c=%s:s=%dx%d:r=%s:d=%s,format=yuv420p[base]",
			sanitizeColor(settings.BackgroundColor), width, height, fps, formatSeconds(duration)))
		previous := "base"
		for i, label := range videoInputs {
			source := sources[indexFromLabel(label)]
			next := "ov" + strconv.Itoa(i)
			chains = append(chains, fmt.Sprintf("[%s][%s]overlay=eof_action=pass:enable='between(t,%s,%s)'[%s]",
				previous, label, formatSeconds(source.TimelineStart), formatSeconds(source.TimelineStart+source.Duration), next))
			previous = next
		}
		chains = append(chains, fmt.Sprintf("[%s]%s[vout]", previous, strings.Join(b.finalVideoFilters(subtitles, windowStart, opts), ",")))
		graph.VideoLabel = "[vout]"
	}

	if len(audioInputs) > 0 {
		end := formatSeconds(duration)
		if len(audioInputs) == 1 {
			chains = append(chains, fmt.Sprintf("[%s]apad,atrim=end=%s[aout]", audioInputs[0], end))
		} else {
			var inputs strings.Builder
			for _, label := range audioInputs {
				inputs.WriteString("[" + label + "]")
			}
			chains = append(chains, fmt.Sprintf("%samix=inputs=%d:duration=longest:normalize=0,apad,atrim=end=%s[aout]",
				inputs.String(), len(audioInputs), end))
		}
		graph.AudioLabel = "[aout]"
	}

	graph.Graph = strings.Join(chains, ";")
	return graph, nil
}

func (b *FilterBuilder) finalVideoFilters(subtitles []InputSource, windowStart float64, opts GraphOptions) []string {
	filters := []string{"format=" + b.project.Settings.Export.PixelFormat}
	for _, sub := range subtitles {
		clip, _, _ := b.project.FindClip(sub.ClipID)
		shift := windowStart - clip.Start + clip.SourceStart
		subtitle := "subtitles=filename=" + escapeFilterPath(sub.Path)
		if shift != 0 {
			filters = append(filters,
				fmt.Sprintf("setpts=PTS+%s/TB", formatSeconds(shift)),
				subtitle,
				fmt.Sprintf("setpts=PTS-%s/TB", formatSeconds(shift)))
			continue
		}
		filters = append(filters, subtitle)
	}
	if opts.Scale != nil && opts.Scale.Width > 0 && opts.Scale.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", opts.Scale.Width, opts.Scale.Height))
	}
	if opts.HWUpload {
		filters = append(filters, "format=nv12", "hwupload")
	}
	return filters
}

// clipVideoFilters renders effects and transition fades for one clip. Fade
// start times are expressed on the output timeline; fades that fall wholly
// outside [0, window) are dropped.
func (b *FilterBuilder) clipVideoFilters(clipID string, windowStart, window float64) ([]string, error) {
	clip, _, ok := b.project.FindClip(clipID)
	if !ok {
		return nil, nil
	}
	clipStart := clip.Start - windowStart
	clipEnd := clip.End - windowStart

	var filters []string
	addFade := func(direction string, start, d float64) {
		if filter, ok := videoFade(direction, start, d, window); ok {
			filters = append(filters, filter)
		}
	}
	for _, effect := range b.project.ClipEffects(clipID) {
		params := effect.Params
		switch strings.ToLower(strings.TrimSpace(effect.Type)) {
		case EffectBrightness:
			filters = append(filters, "eq=brightness="+formatFloat(clamp(param(params, "value", 0), -1, 1)))
		case EffectContrast:
			filters = append(filters, "eq=contrast="+formatFloat(clamp(param(params, "value", 1), -1000, 1000)))
		case EffectSaturation:
			filters = append(filters, "eq=saturation="+formatFloat(clamp(param(params, "value", 1), 0, 3)))
		case EffectBlur:
			radius := int(math.Max(1, math.Round(param(params, "radius", 5))))
			filters = append(filters, fmt.Sprintf("boxblur=luma_radius=%d:luma_power=1", radius))
		case EffectFadeIn:
			d := fadeDuration(param(params, "duration", 1))
			addFade("in", clipStart, d)
		case EffectFadeOut:
			d := fadeDuration(param(params, "duration", 1))
			addFade("out", clipEnd-d, d)
		default:
			return nil, services.Validation("composition", fmt.Sprintf("clip %s: unsupported effect %q", clipID, effect.Type))
		}
	}

	in, out := b.project.TransitionsFor(clipID)
	for _, transition := range in {
		if !SupportedTransition(transition.Type) {
			return nil, services.Validation("composition", fmt.Sprintf("clip %s: unsupported transition %q", clipID, transition.Type))
		}
		addFade("in", clipStart, fadeDuration(transition.Duration))
	}
	for _, transition := range out {
		if !SupportedTransition(transition.Type) {
			return nil, services.Validation("composition", fmt.Sprintf("clip %s: unsupported transition %q", clipID, transition.Type))
		}
		d := fadeDuration(transition.Duration)
		addFade("out", clipEnd-d, d)
	}
	return filters, nil
}

// clipAudioFades renders fade effects for one audio input. The stream starts
// at zero when the input begins, so fade times are shifted onto the clip's own
// timeline and fades outside the input are dropped.
func (b *FilterBuilder) clipAudioFades(source InputSource, windowStart float64) []string {
	clip, _, ok := b.project.FindClip(source.ClipID)
	if !ok {
		return nil
	}
	offset := clip.Start - windowStart - source.TimelineStart
	end := clip.End - windowStart - source.TimelineStart

	var filters []string
	for _, effect := range b.project.ClipEffects(clip.ID) {
		d := fadeDuration(param(effect.Params, "duration", 1))
		var (
			filter string
			ok     bool
		)
		switch strings.ToLower(effect.Type) {
		case EffectFadeIn:
			filter, ok = audioFade("in", offset, d, source.Duration)
		case EffectFadeOut:
			filter, ok = audioFade("out", end-d, d, source.Duration)
		}
		if ok {
			filters = append(filters, filter)
		}
	}
	return filters
}

func fadeDuration(d float64) float64 {
	if d <= 0 {
		return 1
	}
	return d
}

// videoFade returns a fade over [start, start+d) on a stream of length window.
// fade cannot start before zero, so a fade already in progress at the start of
// the stream is expressed as an alpha ramp instead.
func videoFade(direction string, start, d, window float64) (string, bool) {
	if start+d <= 0 || start >= window {
		return "", false
	}
	if start >= 0 {
		return fadeFilter(direction, start, d), true
	}
	return fmt.Sprintf("geq=lum='lum(X,Y)':cb='cb(X,Y)':cr='cr(X,Y)':a='alpha(X,Y)*%s'", fadeRamp(direction, "T", start, d)), true
}

// audioFade is videoFade for audio: afade when the fade starts inside the
// stream, a per-frame volume ramp when it is already in progress.
func audioFade(direction string, start, d, length float64) (string, bool) {
	if start+d <= 0 || start >= length {
		return "", false
	}
	if start >= 0 {
		return fmt.Sprintf("afade=t=%s:st=%s:d=%s", direction, formatSeconds(start), formatSeconds(d)), true
	}
	return fmt.Sprintf("volume='%s':eval=frame", fadeRamp(direction, "t", start, d)), true
}

// fadeRamp is a 0..1 gain expression for a fade over [start, start+d).
func fadeRamp(direction, clock string, start, d float64) string {
	if direction == "in" {
		return fmt.Sprintf("clip((%s-(%s))/%s,0,1)", clock, formatSeconds(start), formatSeconds(d))
	}
	return fmt.Sprintf("clip((%s-%s)/%s,0,1)", formatSeconds(start+d), clock, formatSeconds(d))
}

func fadeFilter(direction string, start, duration float64) string {
	return fmt.Sprintf("fade=t=%s:st=%s:d=%s:alpha=1", direction, formatSeconds(start), formatSeconds(duration))
}

// param coerces a loose JSON value, falling back when absent or malformed.
func param(params map[string]any, key string, fallback float64) float64 {
	raw, ok := params[key]
	if !ok {
		return fallback
	}
	value, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return fallback
	}
	return value
}

func clamp(value, low, high float64) float64 {
	return math.Min(high, math.Max(low, value))
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func indexFromLabel(label string) int {
	idx, _ := strconv.Atoi(label[1:])
	return idx
}

func sanitizeColor(color string) string {
	color = strings.TrimSpace(color)
	if color == "" || strings.ContainsAny(color, ":;,[]'= ") {
		return project.DefaultBackground
	}
	return color
}

func escapeFilterPath(path string) string {
	replacer := strings.NewReplacer(`\`, `\\\\`, `'`, `\\\'`, `:`, `\\:`, `,`, `\,`, `;`, `\;`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(path)
}
