package rendercache

import (
	"fmt"
	"log/slog"
	"time"

	"renderpipe/internal/config"
	"renderpipe/internal/logging"
	"renderpipe/internal/services"
)

// Cache holds previews, media metadata, and render records.
type Cache struct {
	settings Settings
	logger   *slog.Logger
	now      func() time.Time

	previews *table[PreviewKey, *PreviewData]
	metadata *table[string, *MediaMetadata]
	renders  *table[string, *RenderData]
}

// New constructs a cache. Non-positive capacities fall back to defaults.
func New(settings Settings, logger *slog.Logger) (*Cache, error) {
	settings = settings.normalize()
	previews, err := newTable(settings.MaxPreviews, settings.PreviewTTL, previewSize)
	if err != nil {
		return nil, services.Wrap(services.ErrCache, "", "create preview table", "", err)
	}
	metadata, err := newTable(settings.MaxMetadata, settings.MetadataTTL, metadataSize)
	if err != nil {
		return nil, services.Wrap(services.ErrCache, "", "create metadata table", "", err)
	}
	renders, err := newTable(settings.MaxRenders, settings.RenderTTL, renderSize)
	if err != nil {
		return nil, services.Wrap(services.ErrCache, "", "create render table", "", err)
	}
	return &Cache{
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "rendercache"),
		now:      time.Now,
		previews: previews,
		metadata: metadata,
		renders:  renders,
	}, nil
}

// NewFromConfig constructs a cache from the [cache] config section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	return New(SettingsFromConfig(cfg), logger)
}

// Settings returns the effective settings.
func (c *Cache) Settings() Settings {
	return c.settings
}

// GetPreview returns the cached frame bytes for key. The returned slice must
// not be modified.
func (c *Cache) GetPreview(key PreviewKey) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	value, ok := c.previews.get(key, c.now(), func(p *PreviewData) { p.AccessCount++ })
	if !ok {
		return nil, false
	}
	return value.Data, true
}

// StorePreview caches a copy of data under key.
func (c *Cache) StorePreview(key PreviewKey, data []byte) {
	if c == nil {
		return
	}
	c.previews.put(key, &PreviewData{Data: append([]byte(nil), data...), CreatedAt: c.now()})
	c.CleanupIfNeeded()
}

// GetMetadata returns probed metadata for path.
func (c *Cache) GetMetadata(path string) (MediaMetadata, bool) {
	if c == nil {
		return MediaMetadata{}, false
	}
	value, ok := c.metadata.get(path, c.now(), nil)
	if !ok {
		return MediaMetadata{}, false
	}
	return *value, true
}

// StoreMetadata caches meta for path, stamping CachedAt.
func (c *Cache) StoreMetadata(path string, meta MediaMetadata) {
	if c == nil {
		return
	}
	meta.CachedAt = c.now()
	if meta.Path == "" {
		meta.Path = path
	}
	c.metadata.put(path, &meta)
	c.CleanupIfNeeded()
}

// GetRenderData returns the render record for key.
func (c *Cache) GetRenderData(key string) (RenderData, bool) {
	if c == nil {
		return RenderData{}, false
	}
	value, ok := c.renders.get(key, c.now(), nil)
	if !ok {
		return RenderData{}, false
	}
	return *value, true
}

// StoreRenderData caches data for key, stamping CreatedAt.
func (c *Cache) StoreRenderData(key string, data RenderData) {
	if c == nil {
		return
	}
	data.CreatedAt = c.now()
	c.renders.put(key, &data)
	c.CleanupIfNeeded()
}

// RemoveRenderData drops a render record, e.g. when its file disappeared.
func (c *Cache) RemoveRenderData(key string) bool {
	if c == nil {
		return false
	}
	return c.renders.remove(key)
}

// InvalidatePath drops metadata, previews, and render records derived from or
// pointing at path.
func (c *Cache) InvalidatePath(path string) int {
	if c == nil {
		return 0
	}
	removed := 0
	if c.metadata.remove(path) {
		removed++
	}
	removed += c.previews.removeWhere(func(key PreviewKey, _ *PreviewData) bool { return key.Path == path })
	removed += c.renders.removeWhere(func(_ string, data *RenderData) bool { return data.OutputPath == path })
	return removed
}

// CleanupIfNeeded runs CleanupOldEntries when the memory estimate exceeds the
// configured ceiling. It returns the number of entries removed.
func (c *Cache) CleanupIfNeeded() int {
	if c == nil {
		return 0
	}
	usage := c.MemoryUsage()
	if usage.TotalBytes <= usage.LimitBytes {
		return 0
	}
	removed := c.CleanupOldEntries()
	after := c.MemoryUsage()
	c.logger.Info("render cache cleanup",
		logging.String(logging.FieldEventType, "cache_cleanup"),
		logging.Int("removed", removed),
		logging.Int64("bytes_before", usage.TotalBytes),
		logging.Int64("bytes_after", after.TotalBytes),
	)
	if after.TotalBytes > after.LimitBytes {
		logging.WarnWithContext(c.logger, "render cache still above memory ceiling", "cache_over_limit",
			logging.Int64("bytes", after.TotalBytes),
			logging.Int64("limit_bytes", after.LimitBytes),
			logging.String(logging.FieldImpact, "entries stay resident until they expire or are evicted by capacity"),
			logging.String(logging.FieldErrorHint, "lower cache.max_previews or raise cache.max_memory_mb"),
		)
	}
	return removed
}

// CleanupOldEntries removes every expired entry from all tables.
func (c *Cache) CleanupOldEntries() int {
	if c == nil {
		return 0
	}
	now := c.now()
	return c.previews.removeExpired(now) + c.metadata.removeExpired(now) + c.renders.removeExpired(now)
}

// Clear empties all tables. Counters are kept.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.previews.purge()
	c.metadata.purge()
	c.renders.purge()
}

// TableStats reports counters for one table.
type TableStats struct {
	Entries     int
	Capacity    int
	Requests    uint64
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// HitRatio returns hits over requests, or 0 with no requests.
func (t TableStats) HitRatio() float64 {
	if t.Requests == 0 {
		return 0
	}
	return float64(t.Hits) / float64(t.Requests)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Previews TableStats
	Metadata TableStats
	Renders  TableStats
}

// HitRatio returns the combined hit ratio across all tables.
func (s Stats) HitRatio() float64 {
	requests := s.Previews.Requests + s.Metadata.Requests + s.Renders.Requests
	if requests == 0 {
		return 0
	}
	hits := s.Previews.Hits + s.Metadata.Hits + s.Renders.Hits
	return float64(hits) / float64(requests)
}

// PreviewHitRatio returns the preview table hit ratio.
func (s Stats) PreviewHitRatio() float64 {
	return s.Previews.HitRatio()
}

// Stats returns a snapshot of counters and entry counts.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Previews: snapshot(c.previews, c.settings.MaxPreviews),
		Metadata: snapshot(c.metadata, c.settings.MaxMetadata),
		Renders:  snapshot(c.renders, c.settings.MaxRenders),
	}
}

func snapshot[K comparable, V timestamped](t *table[K, V], capacity int) TableStats {
	return TableStats{
		Entries:     t.len(),
		Capacity:    capacity,
		Requests:    t.stats.requests.Load(),
		Hits:        t.stats.hits.Load(),
		Misses:      t.stats.misses.Load(),
		Evictions:   t.stats.evictions.Load(),
		Expirations: t.stats.expirations.Load(),
	}
}

// MemoryUsage is the estimated footprint per table.
type MemoryUsage struct {
	PreviewBytes  int64
	MetadataBytes int64
	RenderBytes   int64
	TotalBytes    int64
	LimitBytes    int64
}

// Percent returns usage as a share of the ceiling.
func (m MemoryUsage) Percent() float64 {
	if m.LimitBytes <= 0 {
		return 0
	}
	return float64(m.TotalBytes) / float64(m.LimitBytes) * 100
}

func (m MemoryUsage) String() string {
	return fmt.Sprintf("%d/%d bytes (%.1f%%)", m.TotalBytes, m.LimitBytes, m.Percent())
}

// MemoryUsage returns the current memory estimate.
func (c *Cache) MemoryUsage() MemoryUsage {
	if c == nil {
		return MemoryUsage{}
	}
	usage := MemoryUsage{
		PreviewBytes:  c.previews.memory(),
		MetadataBytes: c.metadata.memory(),
		RenderBytes:   c.renders.memory(),
		LimitBytes:    c.settings.maxMemoryBytes(),
	}
	usage.TotalBytes = usage.PreviewBytes + usage.MetadataBytes + usage.RenderBytes
	return usage
}
