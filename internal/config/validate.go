package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFFmpeg(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateFFmpeg() error {
	switch c.FFmpeg.HWAccelMethod {
	case "auto", "cuda", "nvenc", "vaapi", "qsv", "videotoolbox":
	default:
		return fmt.Errorf("ffmpeg.hwaccel_method: unsupported value %q", c.FFmpeg.HWAccelMethod)
	}
	if c.FFmpeg.TimeoutSeconds < 0 {
		return errors.New("ffmpeg.timeout_seconds must be zero or positive")
	}
	if c.FFmpeg.Threads < 0 {
		return errors.New("ffmpeg.threads must be zero or positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	if err := ensurePositiveMap(map[string]int{
		"cache.max_previews":  c.Cache.MaxPreviews,
		"cache.max_metadata":  c.Cache.MaxMetadata,
		"cache.max_renders":   c.Cache.MaxRenders,
		"cache.max_memory_mb": c.Cache.MaxMemoryMB,
	}); err != nil {
		return err
	}
	for key, value := range map[string]int{
		"cache.preview_ttl_seconds":  c.Cache.PreviewTTLSeconds,
		"cache.metadata_ttl_seconds": c.Cache.MetadataTTLSeconds,
		"cache.render_ttl_seconds":   c.Cache.RenderTTLSeconds,
	} {
		if value < 0 {
			return fmt.Errorf("%s must be zero or positive", key)
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxConcurrentJobs <= 0 {
		return errors.New("pipeline.max_concurrent_jobs must be positive")
	}
	if c.Pipeline.MinFreeDiskMB < 0 {
		return errors.New("pipeline.min_free_disk_mb must be zero or positive")
	}
	if c.Worker.Prefetch <= 0 {
		return errors.New("worker.prefetch must be positive")
	}
	return nil
}

func (c *Config) validatePublish() error {
	if !c.Publish.Enabled {
		return nil
	}
	switch c.Publish.Backend {
	case "minio", "s3":
	default:
		return fmt.Errorf("publish.backend: unsupported value %q (expected minio or s3)", c.Publish.Backend)
	}
	if c.Publish.Bucket == "" {
		return errors.New("publish.bucket must be set when publish.enabled is true")
	}
	if c.Publish.Backend == "minio" && c.Publish.Endpoint == "" {
		return errors.New("publish.endpoint must be set for the minio backend")
	}
	if strings.TrimSpace(c.Publish.AccessKey) == "" || strings.TrimSpace(c.Publish.SecretKey) == "" {
		return errors.New("publish.access_key and publish.secret_key must be set when publish.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if !validLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	for stage, level := range c.Logging.StageOverrides {
		if !validLevel(level) {
			return fmt.Errorf("logging.stage_overrides.%s: unsupported level %q", stage, level)
		}
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}

func validLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
