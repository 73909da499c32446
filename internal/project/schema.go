package project

import (
	"encoding/json"
	"strings"
	"time"
)

// TrackType identifies the media carried by a track.
type TrackType string

const (
	TrackVideo    TrackType = "video"
	TrackAudio    TrackType = "audio"
	TrackSubtitle TrackType = "subtitle"
)

// SourceKind distinguishes file-backed clips from synthesized ones.
type SourceKind string

const (
	SourceFile      SourceKind = "file"
	SourceGenerated SourceKind = "generated"
)

// Generator types understood by the preprocessing stage.
const (
	GeneratorColor    = "color"
	GeneratorNoise    = "noise"
	GeneratorGradient = "gradient"
)

// Metadata carries descriptive project information.
type Metadata struct {
	Name       string    `json:"name"`
	Version    string    `json:"version,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Timeline describes the overall edit length in seconds.
type Timeline struct {
	Duration float64 `json:"duration"`
}

// Generator describes a synthesized clip source.
type Generator struct {
	Type     string  `json:"type"`
	Color    string  `json:"color,omitempty"`
	ColorEnd string  `json:"color_end,omitempty"`
	Strength float64 `json:"strength,omitempty"`
}

// ClipSource references the media a clip is cut from.
type ClipSource struct {
	Kind      SourceKind `json:"kind"`
	Path      string     `json:"path,omitempty"`
	Generator *Generator `json:"generator,omitempty"`
}

// IsFile reports whether the source points at a media file on disk.
func (s ClipSource) IsFile() bool {
	if s.Kind == "" {
		return strings.TrimSpace(s.Path) != ""
	}
	return s.Kind == SourceFile
}

// IsGenerated reports whether the source is synthesized during preprocessing.
func (s ClipSource) IsGenerated() bool {
	return s.Kind == SourceGenerated
}

// Clip places a window of source media on the timeline. Start and End are
// timeline seconds; SourceStart and SourceDuration bound the trim window
// inside the source.
type Clip struct {
	ID             string     `json:"id"`
	Source         ClipSource `json:"source"`
	Start          float64    `json:"start"`
	End            float64    `json:"end"`
	SourceStart    float64    `json:"source_start"`
	SourceDuration float64    `json:"source_duration"`
	Volume         float64    `json:"volume"`
}

// Duration returns the clip's length on the timeline.
func (c Clip) Duration() float64 {
	return c.End - c.Start
}

// Overlaps reports whether the clip intersects the half-open window [start, end).
func (c Clip) Overlaps(start, end float64) bool {
	return c.Start < end && c.End > start
}

// UnmarshalJSON applies defaults for fields omitted from project files.
func (c *Clip) UnmarshalJSON(data []byte) error {
	type alias Clip
	decoded := alias{Volume: 1}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = Clip(decoded)
	if c.SourceDuration == 0 && c.End > c.Start {
		c.SourceDuration = c.End - c.Start
	}
	return nil
}

// Track is an ordered lane of clips of a single media type.
type Track struct {
	ID      string    `json:"id"`
	Name    string    `json:"name,omitempty"`
	Type    TrackType `json:"type"`
	Enabled bool      `json:"enabled"`
	Clips   []Clip    `json:"clips"`
}

// UnmarshalJSON treats tracks without an explicit enabled flag as enabled.
func (t *Track) UnmarshalJSON(data []byte) error {
	type alias Track
	decoded := alias{Enabled: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*t = Track(decoded)
	return nil
}

// Effect applies a named filter to one clip. Params are loose JSON values.
type Effect struct {
	ID     string         `json:"id,omitempty"`
	ClipID string         `json:"clip_id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Transition blends two adjoining clips over Duration seconds.
type Transition struct {
	ID         string  `json:"id,omitempty"`
	Type       string  `json:"type"`
	FromClipID string  `json:"from_clip_id"`
	ToClipID   string  `json:"to_clip_id"`
	Duration   float64 `json:"duration"`
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ExportSettings controls container, codec, and quality selection.
type ExportSettings struct {
	Format       string `json:"format"`
	VideoCodec   string `json:"video_codec"`
	AudioCodec   string `json:"audio_codec"`
	VideoBitrate string `json:"video_bitrate,omitempty"`
	AudioBitrate string `json:"audio_bitrate,omitempty"`
	CRF          int    `json:"crf,omitempty"`
	Preset       string `json:"preset,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	PixelFormat  string `json:"pixel_format,omitempty"`
}

// Settings holds project-wide render settings.
type Settings struct {
	Export               ExportSettings `json:"export"`
	Resolution           Resolution     `json:"resolution"`
	FrameRate            float64        `json:"frame_rate"`
	HardwareAcceleration bool           `json:"hardware_acceleration"`
	BackgroundColor      string         `json:"background_color,omitempty"`
}

// Schema is the complete description of an edit.
type Schema struct {
	Metadata    Metadata     `json:"metadata"`
	Timeline    Timeline     `json:"timeline"`
	Tracks      []Track      `json:"tracks"`
	Effects     []Effect     `json:"effects,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
	Settings    Settings     `json:"settings"`
}
