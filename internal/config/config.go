package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	TempDir   string `toml:"temp_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	HistoryDB string `toml:"history_db"`
}

// FFmpeg contains transcoder settings.
type FFmpeg struct {
	Binary               string `toml:"ffmpeg_binary"`
	ProbeBinary          string `toml:"ffprobe_binary"`
	HardwareAcceleration bool   `toml:"hardware_acceleration"`
	HWAccelMethod        string `toml:"hwaccel_method"`
	HardwareFallback     bool   `toml:"hardware_fallback"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	Threads              int    `toml:"threads"`
	LogLevel             string `toml:"loglevel"`
}

// Cache contains render cache capacities and TTLs.
type Cache struct {
	MaxPreviews        int `toml:"max_previews"`
	MaxMetadata        int `toml:"max_metadata"`
	MaxRenders         int `toml:"max_renders"`
	MaxMemoryMB        int `toml:"max_memory_mb"`
	PreviewTTLSeconds  int `toml:"preview_ttl_seconds"`
	MetadataTTLSeconds int `toml:"metadata_ttl_seconds"`
	RenderTTLSeconds   int `toml:"render_ttl_seconds"`
}

// Pipeline contains orchestration limits.
type Pipeline struct {
	MaxConcurrentJobs int  `toml:"max_concurrent_jobs"`
	MinFreeDiskMB     int  `toml:"min_free_disk_mb"`
	ProbeSources      bool `toml:"probe_sources"`
}

// Worker contains AMQP job queue settings.
type Worker struct {
	AMQPURL     string `toml:"amqp_url"`
	ListenQueue string `toml:"listen_queue"`
	StatusQueue string `toml:"status_queue"`
	Prefetch    int    `toml:"prefetch"`
}

// Publish contains settings for uploading finished renders.
type Publish struct {
	Enabled   bool   `toml:"enabled"`
	Backend   string `toml:"backend"`
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	RetentionDays  int               `toml:"retention_days"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Config encapsulates all configuration values for renderpipe.
//
// Configuration sections by subsystem:
//   - Paths: temp, output, log, and history locations
//   - FFmpeg: transcoder binaries, hardware acceleration, timeouts
//   - Cache: render cache capacities, memory ceiling, TTLs
//   - Pipeline: concurrency and pre-flight thresholds
//   - Worker: AMQP queue names for the render worker
//   - Publish: optional minio/S3 upload of finished renders
//   - Logging: log format, level, retention, per-stage overrides
type Config struct {
	Paths    Paths    `toml:"paths"`
	FFmpeg   FFmpeg   `toml:"ffmpeg"`
	Cache    Cache    `toml:"cache"`
	Pipeline Pipeline `toml:"pipeline"`
	Worker   Worker   `toml:"worker"`
	Publish  Publish  `toml:"publish"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/renderpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is loaded
// first so its values participate in environment overrides.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("renderpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.TempDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		if err := os.MkdirAll(c.Paths.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output directory %q: %w", c.Paths.OutputDir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.HistoryDB); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for rendering.
func (c *Config) FFmpegBinary() string {
	if c == nil || strings.TrimSpace(c.FFmpeg.Binary) == "" {
		return defaultFFmpegBinary
	}
	return c.FFmpeg.Binary
}

// FFprobeBinary returns the ffprobe executable used for source inspection.
func (c *Config) FFprobeBinary() string {
	if c == nil || strings.TrimSpace(c.FFmpeg.ProbeBinary) == "" {
		return defaultFFprobeBinary
	}
	return c.FFmpeg.ProbeBinary
}

// FFmpegTimeout returns the per-invocation transcoder timeout, or 0 for none.
func (c *Config) FFmpegTimeout() time.Duration {
	if c == nil || c.FFmpeg.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.FFmpeg.TimeoutSeconds) * time.Second
}

// StageLogLevel returns the configured level override for a stage, if any.
func (c *Config) StageLogLevel(stage string) (string, bool) {
	if c == nil || len(c.Logging.StageOverrides) == 0 {
		return "", false
	}
	level, ok := c.Logging.StageOverrides[strings.ToLower(strings.TrimSpace(stage))]
	if !ok || strings.TrimSpace(level) == "" {
		return "", false
	}
	return level, true
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	if redacted.Publish.SecretKey != "" {
		redacted.Publish.SecretKey = "********"
	}
	data, err := toml.Marshal(redacted)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
