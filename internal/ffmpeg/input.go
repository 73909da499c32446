package ffmpeg

import (
	"math"
	"strconv"
	"strings"

	"renderpipe/internal/project"
)

// InputSource describes one -i argument: where the media lives, the trim
// window inside it, and where it lands on the output timeline.
type InputSource struct {
	ClipID        string
	Path          string
	Start         float64
	Duration      float64
	TrackType     project.TrackType
	TimelineStart float64
	Volume        float64
}

// InputBuilder derives input sources from enabled tracks in schema order.
// Generated clips contribute inputs once preprocessing has rendered them and
// registered their output path.
type InputBuilder struct {
	project   *project.Schema
	generated map[string]string
}

// NewInputBuilder constructs an InputBuilder over p. generated maps clip ids to
// rendered files for generated sources and may be nil.
func NewInputBuilder(p *project.Schema, generated map[string]string) *InputBuilder {
	return &InputBuilder{project: p, generated: generated}
}

// SetGeneratedSources replaces the clip id to file mapping for generated clips.
func (b *InputBuilder) SetGeneratedSources(generated map[string]string) {
	b.generated = generated
}

func (b *InputBuilder) resolvePath(clip project.Clip) (string, bool) {
	if clip.Source.IsGenerated() {
		path, ok := b.generated[clip.ID]
		return path, ok && strings.TrimSpace(path) != ""
	}
	if !clip.Source.IsFile() {
		return "", false
	}
	path := strings.TrimSpace(clip.Source.Path)
	return path, path != ""
}

// eachInput visits every clip that yields an input, in positional order.
func (b *InputBuilder) eachInput(visit func(track project.Track, clip project.Clip, path string) bool) {
	if b == nil || b.project == nil {
		return
	}
	for _, track := range b.project.EnabledTracks() {
		for _, clip := range track.Clips {
			path, ok := b.resolvePath(clip)
			if !ok {
				continue
			}
			if !visit(track, clip, path) {
				return
			}
		}
	}
}

// CollectInputSources returns one source per file-backed clip on an enabled
// track, preserving schema order.
func (b *InputBuilder) CollectInputSources() []InputSource {
	var sources []InputSource
	b.eachInput(func(track project.Track, clip project.Clip, path string) bool {
		sources = append(sources, InputSource{
			ClipID:        clip.ID,
			Path:          path,
			Start:         clip.SourceStart,
			Duration:      clip.SourceDuration,
			TrackType:     track.Type,
			TimelineStart: clip.Start,
			Volume:        clip.Volume,
		})
		return true
	})
	return sources
}

// CollectSegmentSources returns the sources whose timeline interval intersects
// [start, end), with each trim window clamped to the intersection. Returned
// TimelineStart values are relative to start.
func (b *InputBuilder) CollectSegmentSources(start, end float64) []InputSource {
	if end <= start {
		return nil
	}
	var sources []InputSource
	b.eachInput(func(track project.Track, clip project.Clip, path string) bool {
		if !clip.Overlaps(start, end) {
			return true
		}
		offset := math.Max(0, start-clip.Start)
		segmentStart := clip.Start + offset
		duration := math.Min(end, clip.End) - segmentStart
		if duration <= 0 {
			return true
		}
		sources = append(sources, InputSource{
			ClipID:        clip.ID,
			Path:          path,
			Start:         clip.SourceStart + offset,
			Duration:      duration,
			TrackType:     track.Type,
			TimelineStart: segmentStart - start,
			Volume:        clip.Volume,
		})
		return true
	})
	return sources
}

// ClipInputIndex returns the positional input index CollectInputSources
// assigns to clipID.
func (b *InputBuilder) ClipInputIndex(clipID string) (int, bool) {
	index := -1
	position := 0
	b.eachInput(func(_ project.Track, clip project.Clip, _ string) bool {
		if clip.ID == clipID {
			index = position
			return false
		}
		position++
		return true
	})
	return index, index >= 0
}

// AddInputSource appends the options for one input. Every input option is
// emitted ahead of -i because ffmpeg binds options to the following input.
// decodeAccel is applied to video sources only and may be nil.
func (b *InputBuilder) AddInputSource(cmd *Command, source InputSource, decodeAccel []string) {
	if source.Start > 0 {
		cmd.Add("-ss", formatSeconds(source.Start))
	}
	if source.Duration > 0 {
		cmd.Add("-t", formatSeconds(source.Duration))
	}
	if source.TrackType == project.TrackVideo && len(decodeAccel) > 0 {
		cmd.Add(decodeAccel...)
	}
	cmd.Add("-i", source.Path)
}

// formatSeconds renders seconds with millisecond precision.
func formatSeconds(value float64) string {
	return strconv.FormatFloat(math.Round(value*1000)/1000, 'f', -1, 64)
}
