package project

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Default export values applied to settings left blank in a project file.
const (
	DefaultFormat      = "mp4"
	DefaultVideoCodec  = "h264"
	DefaultAudioCodec  = "aac"
	DefaultWidth       = 1920
	DefaultHeight      = 1080
	DefaultFrameRate   = 30
	DefaultSampleRate  = 48000
	DefaultChannels    = 2
	DefaultPixelFormat = "yuv420p"
	DefaultBackground  = "black"
)

// Load reads and parses a JSON project file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	schema, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse project %s: %w", filepath.Base(path), err)
	}
	return schema, nil
}

// Parse decodes a JSON project and applies setting defaults.
func Parse(data []byte) (*Schema, error) {
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	schema.ApplyDefaults()
	return &schema, nil
}

// Save writes the project as indented JSON.
func (s *Schema) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create project directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset export settings.
func (s *Schema) ApplyDefaults() {
	if s == nil {
		return
	}
	export := &s.Settings.Export
	if strings.TrimSpace(export.Format) == "" {
		export.Format = DefaultFormat
	}
	if strings.TrimSpace(export.VideoCodec) == "" {
		export.VideoCodec = DefaultVideoCodec
	}
	if strings.TrimSpace(export.AudioCodec) == "" {
		export.AudioCodec = DefaultAudioCodec
	}
	if export.SampleRate <= 0 {
		export.SampleRate = DefaultSampleRate
	}
	if export.Channels <= 0 {
		export.Channels = DefaultChannels
	}
	if strings.TrimSpace(export.PixelFormat) == "" {
		export.PixelFormat = DefaultPixelFormat
	}
	if s.Settings.Resolution.Width <= 0 || s.Settings.Resolution.Height <= 0 {
		s.Settings.Resolution = Resolution{Width: DefaultWidth, Height: DefaultHeight}
	}
	if s.Settings.FrameRate <= 0 {
		s.Settings.FrameRate = DefaultFrameRate
	}
	if strings.TrimSpace(s.Settings.BackgroundColor) == "" {
		s.Settings.BackgroundColor = DefaultBackground
	}
}

// EnabledTracks returns the tracks that contribute to a render, in order.
func (s *Schema) EnabledTracks() []Track {
	if s == nil {
		return nil
	}
	tracks := make([]Track, 0, len(s.Tracks))
	for _, track := range s.Tracks {
		if track.Enabled {
			tracks = append(tracks, track)
		}
	}
	return tracks
}

// HasEnabledTrack reports whether any enabled track of the given type holds clips.
func (s *Schema) HasEnabledTrack(kind TrackType) bool {
	for _, track := range s.EnabledTracks() {
		if track.Type == kind && len(track.Clips) > 0 {
			return true
		}
	}
	return false
}

// FindClip locates a clip by id across all tracks.
func (s *Schema) FindClip(id string) (Clip, Track, bool) {
	if s == nil {
		return Clip{}, Track{}, false
	}
	for _, track := range s.Tracks {
		for _, clip := range track.Clips {
			if clip.ID == id {
				return clip, track, true
			}
		}
	}
	return Clip{}, Track{}, false
}

// ClipEffects returns the effects attached to a clip, in declaration order.
func (s *Schema) ClipEffects(clipID string) []Effect {
	if s == nil {
		return nil
	}
	var effects []Effect
	for _, effect := range s.Effects {
		if effect.ClipID == clipID {
			effects = append(effects, effect)
		}
	}
	return effects
}

// TransitionsFor returns transitions entering and leaving a clip.
func (s *Schema) TransitionsFor(clipID string) (in []Transition, out []Transition) {
	if s == nil {
		return nil, nil
	}
	for _, transition := range s.Transitions {
		if transition.ToClipID == clipID {
			in = append(in, transition)
		}
		if transition.FromClipID == clipID {
			out = append(out, transition)
		}
	}
	return in, out
}

// Duration returns the timeline duration, falling back to the latest clip end.
func (s *Schema) Duration() float64 {
	if s == nil {
		return 0
	}
	if s.Timeline.Duration > 0 {
		return s.Timeline.Duration
	}
	end := 0.0
	for _, track := range s.EnabledTracks() {
		for _, clip := range track.Clips {
			end = math.Max(end, clip.End)
		}
	}
	return end
}

// FileSources returns the distinct file paths referenced by enabled tracks.
func (s *Schema) FileSources() []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, track := range s.EnabledTracks() {
		for _, clip := range track.Clips {
			if !clip.Source.IsFile() {
				continue
			}
			path := strings.TrimSpace(clip.Source.Path)
			if _, ok := seen[path]; ok || path == "" {
				continue
			}
			seen[path] = struct{}{}
			paths = append(paths, path)
		}
	}
	return paths
}

// Validate checks structural invariants that do not require touching the
// filesystem. All problems are reported together.
func (s *Schema) Validate() error {
	if s == nil {
		return errors.New("project is nil")
	}
	var problems []error
	if strings.TrimSpace(s.Metadata.Name) == "" {
		problems = append(problems, errors.New("metadata.name is required"))
	}
	ids := make(map[string]struct{})
	clipCount := 0
	for ti, track := range s.Tracks {
		switch track.Type {
		case TrackVideo, TrackAudio, TrackSubtitle:
		default:
			problems = append(problems, fmt.Errorf("tracks[%d]: unsupported type %q", ti, track.Type))
		}
		for ci, clip := range track.Clips {
			label := fmt.Sprintf("tracks[%d].clips[%d]", ti, ci)
			if strings.TrimSpace(clip.ID) == "" {
				problems = append(problems, fmt.Errorf("%s: id is required", label))
			} else if _, dup := ids[clip.ID]; dup {
				problems = append(problems, fmt.Errorf("%s: duplicate clip id %q", label, clip.ID))
			} else {
				ids[clip.ID] = struct{}{}
			}
			if clip.Start < 0 {
				problems = append(problems, fmt.Errorf("%s: start must be >= 0", label))
			}
			if clip.End <= clip.Start {
				problems = append(problems, fmt.Errorf("%s: end must be greater than start", label))
			}
			if clip.SourceStart < 0 || clip.SourceDuration < 0 {
				problems = append(problems, fmt.Errorf("%s: source window must be non-negative", label))
			}
			problems = append(problems, validateSource(label, clip.Source)...)
			if track.Enabled {
				clipCount++
			}
		}
	}
	if clipCount == 0 {
		problems = append(problems, errors.New("project has no clips on enabled tracks"))
	}
	for i, effect := range s.Effects {
		if _, ok := ids[effect.ClipID]; !ok {
			problems = append(problems, fmt.Errorf("effects[%d]: unknown clip %q", i, effect.ClipID))
		}
	}
	for i, transition := range s.Transitions {
		_, fromOK := ids[transition.FromClipID]
		_, toOK := ids[transition.ToClipID]
		if !fromOK || !toOK {
			problems = append(problems, fmt.Errorf("transitions[%d]: references unknown clip", i))
		}
		if transition.Duration <= 0 {
			problems = append(problems, fmt.Errorf("transitions[%d]: duration must be positive", i))
		}
	}
	if s.Settings.FrameRate < 0 {
		problems = append(problems, errors.New("settings.frame_rate must be positive"))
	}
	return errors.Join(problems...)
}

func validateSource(label string, source ClipSource) []error {
	switch {
	case source.IsGenerated():
		if source.Generator == nil {
			return []error{fmt.Errorf("%s: generated source requires a generator", label)}
		}
		switch source.Generator.Type {
		case GeneratorColor, GeneratorNoise, GeneratorGradient:
			return nil
		default:
			return []error{fmt.Errorf("%s: unsupported generator %q", label, source.Generator.Type)}
		}
	case source.IsFile():
		if strings.TrimSpace(source.Path) == "" {
			return []error{fmt.Errorf("%s: file source requires a path", label)}
		}
		return nil
	default:
		return []error{fmt.Errorf("%s: unsupported source kind %q", label, source.Kind)}
	}
}

// Fingerprint hashes the parts of the project that influence rendered output.
// Two schemas with the same fingerprint produce the same render.
func (s *Schema) Fingerprint() string {
	if s == nil {
		return ""
	}
	payload := struct {
		Tracks      []Track      `json:"tracks"`
		Effects     []Effect     `json:"effects"`
		Transitions []Transition `json:"transitions"`
		Settings    Settings     `json:"settings"`
		Duration    float64      `json:"duration"`
	}{s.EnabledTracks(), s.Effects, s.Transitions, s.Settings, s.Duration()}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
