package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// loadDotEnv populates unset environment variables from path when it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type envBinding struct {
	name  string
	apply func(c *Config, raw string) error
}

var envBindings = []envBinding{
	{"RENDERPIPE_TEMP_DIR", func(c *Config, raw string) error { c.Paths.TempDir = raw; return nil }},
	{"RENDERPIPE_OUTPUT_DIR", func(c *Config, raw string) error { c.Paths.OutputDir = raw; return nil }},
	{"RENDERPIPE_LOG_DIR", func(c *Config, raw string) error { c.Paths.LogDir = raw; return nil }},
	{"RENDERPIPE_FFMPEG", func(c *Config, raw string) error { c.FFmpeg.Binary = raw; return nil }},
	{"RENDERPIPE_FFPROBE", func(c *Config, raw string) error { c.FFmpeg.ProbeBinary = raw; return nil }},
	{"RENDERPIPE_HWACCEL", boolBinding(func(c *Config, v bool) { c.FFmpeg.HardwareAcceleration = v })},
	{"RENDERPIPE_HWACCEL_METHOD", func(c *Config, raw string) error { c.FFmpeg.HWAccelMethod = raw; return nil }},
	{"RENDERPIPE_FFMPEG_TIMEOUT", intBinding(func(c *Config, v int) { c.FFmpeg.TimeoutSeconds = v })},
	{"RENDERPIPE_CACHE_MAX_MEMORY_MB", intBinding(func(c *Config, v int) { c.Cache.MaxMemoryMB = v })},
	{"RENDERPIPE_MAX_CONCURRENT_JOBS", intBinding(func(c *Config, v int) { c.Pipeline.MaxConcurrentJobs = v })},
	{"RENDERPIPE_AMQP_URL", func(c *Config, raw string) error { c.Worker.AMQPURL = raw; return nil }},
	{"RENDERPIPE_PUBLISH_ENABLED", boolBinding(func(c *Config, v bool) { c.Publish.Enabled = v })},
	{"RENDERPIPE_PUBLISH_ENDPOINT", func(c *Config, raw string) error { c.Publish.Endpoint = raw; return nil }},
	{"RENDERPIPE_PUBLISH_BUCKET", func(c *Config, raw string) error { c.Publish.Bucket = raw; return nil }},
	{"RENDERPIPE_PUBLISH_ACCESS_KEY", func(c *Config, raw string) error { c.Publish.AccessKey = raw; return nil }},
	{"RENDERPIPE_PUBLISH_SECRET_KEY", func(c *Config, raw string) error { c.Publish.SecretKey = raw; return nil }},
	{"RENDERPIPE_LOG_LEVEL", func(c *Config, raw string) error { c.Logging.Level = raw; return nil }},
	{"RENDERPIPE_LOG_FORMAT", func(c *Config, raw string) error { c.Logging.Format = raw; return nil }},
}

// applyEnv overlays RENDERPIPE_* environment variables on top of file values.
func (c *Config) applyEnv() error {
	for _, binding := range envBindings {
		raw, ok := os.LookupEnv(binding.name)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := binding.apply(c, raw); err != nil {
			return fmt.Errorf("%s: %w", binding.name, err)
		}
	}
	return nil
}

func boolBinding(set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		value, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		set(c, value)
		return nil
	}
}

func intBinding(set func(*Config, int)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		value, err := cast.ToIntE(raw)
		if err != nil {
			return err
		}
		set(c, value)
		return nil
	}
}
