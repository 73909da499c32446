package rendercache

import (
	"time"

	"renderpipe/internal/config"
)

// Settings bounds each table and the overall memory estimate.
type Settings struct {
	MaxPreviews int
	MaxMetadata int
	MaxRenders  int
	MaxMemoryMB int
	PreviewTTL  time.Duration
	MetadataTTL time.Duration
	RenderTTL   time.Duration
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxPreviews: 1000,
		MaxMetadata: 500,
		MaxRenders:  100,
		MaxMemoryMB: 512,
		PreviewTTL:  5 * time.Minute,
		MetadataTTL: time.Hour,
		RenderTTL:   30 * time.Minute,
	}
}

// SettingsFromConfig derives cache settings from the [cache] section.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return DefaultSettings()
	}
	c := cfg.Cache
	return Settings{
		MaxPreviews: c.MaxPreviews,
		MaxMetadata: c.MaxMetadata,
		MaxRenders:  c.MaxRenders,
		MaxMemoryMB: c.MaxMemoryMB,
		PreviewTTL:  time.Duration(c.PreviewTTLSeconds) * time.Second,
		MetadataTTL: time.Duration(c.MetadataTTLSeconds) * time.Second,
		RenderTTL:   time.Duration(c.RenderTTLSeconds) * time.Second,
	}.normalize()
}

// normalize replaces non-positive capacities with defaults. TTLs of zero are
// kept and mean "never expire".
func (s Settings) normalize() Settings {
	defaults := DefaultSettings()
	if s.MaxPreviews <= 0 {
		s.MaxPreviews = defaults.MaxPreviews
	}
	if s.MaxMetadata <= 0 {
		s.MaxMetadata = defaults.MaxMetadata
	}
	if s.MaxRenders <= 0 {
		s.MaxRenders = defaults.MaxRenders
	}
	if s.MaxMemoryMB <= 0 {
		s.MaxMemoryMB = defaults.MaxMemoryMB
	}
	if s.PreviewTTL < 0 {
		s.PreviewTTL = 0
	}
	if s.MetadataTTL < 0 {
		s.MetadataTTL = 0
	}
	if s.RenderTTL < 0 {
		s.RenderTTL = 0
	}
	return s
}

func (s Settings) maxMemoryBytes() int64 {
	return int64(s.MaxMemoryMB) * 1024 * 1024
}
