package rendercache

import (
	"fmt"
	"time"
)

// PreviewKey identifies a rendered preview frame.
type PreviewKey struct {
	Path        string
	TimestampMS int64
	Width       int
	Height      int
	Quality     int
}

func (k PreviewKey) String() string {
	return fmt.Sprintf("%s@%dms/%dx%d/q%d", k.Path, k.TimestampMS, k.Width, k.Height, k.Quality)
}

// PreviewData holds encoded frame bytes.
type PreviewData struct {
	Data        []byte
	CreatedAt   time.Time
	AccessCount uint64
}

// IsExpired reports whether the preview is older than ttl. A ttl of zero
// never expires.
func (p *PreviewData) IsExpired(ttl time.Duration) bool {
	return expiredAt(p.CreatedAt, ttl, time.Now())
}

func (p *PreviewData) created() time.Time { return p.CreatedAt }

// MediaMetadata is the probed description of a source file.
type MediaMetadata struct {
	Path       string
	Duration   float64
	Width      int
	Height     int
	FrameRate  float64
	VideoCodec string
	AudioCodec string
	HasVideo   bool
	HasAudio   bool
	SizeBytes  int64
	CachedAt   time.Time
}

// IsExpired reports whether the metadata is older than ttl.
func (m *MediaMetadata) IsExpired(ttl time.Duration) bool {
	return expiredAt(m.CachedAt, ttl, time.Now())
}

func (m *MediaMetadata) created() time.Time { return m.CachedAt }

// RenderData records a rendered file that can stand in for a re-render.
type RenderData struct {
	OutputPath   string
	SettingsHash string
	CreatedAt    time.Time
	FileSize     int64
}

// IsExpired reports whether the render record is older than ttl.
func (r *RenderData) IsExpired(ttl time.Duration) bool {
	return expiredAt(r.CreatedAt, ttl, time.Now())
}

func (r *RenderData) created() time.Time { return r.CreatedAt }

func expiredAt(created time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(created) > ttl
}

// entry sizes are estimates used for the memory ceiling; they include a fixed
// per-entry overhead for list and map bookkeeping.
const entryOverhead = 96

func previewSize(key PreviewKey, value *PreviewData) int64 {
	return int64(entryOverhead + len(key.Path) + 32 + len(value.Data))
}

func metadataSize(key string, value *MediaMetadata) int64 {
	return int64(entryOverhead + len(key) + len(value.Path) + len(value.VideoCodec) + len(value.AudioCodec) + 96)
}

func renderSize(key string, value *RenderData) int64 {
	return int64(entryOverhead + len(key) + len(value.OutputPath) + len(value.SettingsHash) + 40)
}
