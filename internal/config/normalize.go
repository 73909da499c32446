package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFFmpeg()
	c.normalizeCache()
	c.normalizeWorker()
	c.normalizePublish()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.HistoryDB) == "" {
		c.Paths.HistoryDB = defaultHistoryDB
	}
	if c.Paths.HistoryDB, err = expandPath(c.Paths.HistoryDB); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.Binary = strings.TrimSpace(c.FFmpeg.Binary)
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = defaultFFmpegBinary
	}
	c.FFmpeg.ProbeBinary = strings.TrimSpace(c.FFmpeg.ProbeBinary)
	if c.FFmpeg.ProbeBinary == "" {
		c.FFmpeg.ProbeBinary = defaultFFprobeBinary
	}
	c.FFmpeg.HWAccelMethod = strings.ToLower(strings.TrimSpace(c.FFmpeg.HWAccelMethod))
	if c.FFmpeg.HWAccelMethod == "" {
		c.FFmpeg.HWAccelMethod = defaultHWAccelMethod
	}
	c.FFmpeg.LogLevel = strings.ToLower(strings.TrimSpace(c.FFmpeg.LogLevel))
	if c.FFmpeg.LogLevel == "" {
		c.FFmpeg.LogLevel = defaultFFmpegLogLevel
	}
}

func (c *Config) normalizeCache() {
	if c.Cache.MaxPreviews == 0 {
		c.Cache.MaxPreviews = defaultMaxPreviews
	}
	if c.Cache.MaxMetadata == 0 {
		c.Cache.MaxMetadata = defaultMaxMetadata
	}
	if c.Cache.MaxRenders == 0 {
		c.Cache.MaxRenders = defaultMaxRenders
	}
	if c.Cache.MaxMemoryMB == 0 {
		c.Cache.MaxMemoryMB = defaultMaxMemoryMB
	}
	if c.Pipeline.MaxConcurrentJobs == 0 {
		c.Pipeline.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
}

func (c *Config) normalizeWorker() {
	c.Worker.AMQPURL = strings.TrimSpace(c.Worker.AMQPURL)
	if c.Worker.AMQPURL == "" {
		c.Worker.AMQPURL = defaultAMQPURL
	}
	c.Worker.ListenQueue = strings.TrimSpace(c.Worker.ListenQueue)
	if c.Worker.ListenQueue == "" {
		c.Worker.ListenQueue = defaultListenQueue
	}
	c.Worker.StatusQueue = strings.TrimSpace(c.Worker.StatusQueue)
	if c.Worker.StatusQueue == "" {
		c.Worker.StatusQueue = defaultStatusQueue
	}
	if c.Worker.Prefetch == 0 {
		c.Worker.Prefetch = defaultPrefetch
	}
}

func (c *Config) normalizePublish() {
	c.Publish.Backend = strings.ToLower(strings.TrimSpace(c.Publish.Backend))
	if c.Publish.Backend == "" {
		c.Publish.Backend = defaultPublishBackend
	}
	c.Publish.Endpoint = strings.TrimSpace(c.Publish.Endpoint)
	c.Publish.Bucket = strings.TrimSpace(c.Publish.Bucket)
	c.Publish.Prefix = strings.Trim(strings.TrimSpace(c.Publish.Prefix), "/")
	if strings.TrimSpace(c.Publish.Region) == "" {
		c.Publish.Region = defaultPublishRegion
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.StageOverrides) > 0 {
		normalized := make(map[string]string, len(c.Logging.StageOverrides))
		for stage, level := range c.Logging.StageOverrides {
			key := strings.ToLower(strings.TrimSpace(stage))
			if key == "" {
				continue
			}
			normalized[key] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.StageOverrides = normalized
	}
}
