package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"renderpipe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantTemp := filepath.Join(tempHome, ".cache", "renderpipe", "tmp")
	if cfg.Paths.TempDir != wantTemp {
		t.Fatalf("unexpected temp dir: got %q want %q", cfg.Paths.TempDir, wantTemp)
	}
	if cfg.Paths.HistoryDB != filepath.Join(tempHome, ".local", "share", "renderpipe", "history.db") {
		t.Fatalf("unexpected history db: %q", cfg.Paths.HistoryDB)
	}
	if cfg.FFmpegBinary() != "ffmpeg" || cfg.FFprobeBinary() != "ffprobe" {
		t.Fatalf("unexpected binaries: %q %q", cfg.FFmpegBinary(), cfg.FFprobeBinary())
	}
	if !cfg.FFmpeg.HardwareAcceleration {
		t.Fatal("expected hardware acceleration enabled by default")
	}
	if cfg.Publish.Enabled {
		t.Fatal("expected publishing disabled by default")
	}
	if cfg.FFmpegTimeout() != 0 {
		t.Fatalf("expected no ffmpeg timeout by default, got %v", cfg.FFmpegTimeout())
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	payload := `
[paths]
temp_dir = "~/scratch"
output_dir = "~/out"

[ffmpeg]
ffmpeg_binary = "/opt/ffmpeg/bin/ffmpeg"
hardware_acceleration = false
hwaccel_method = "VAAPI"
timeout_seconds = 90

[cache]
max_previews = 10
preview_ttl_seconds = 5

[logging]
format = "JSON"
level = "Debug"

[logging.stage_overrides]
Encoding = "warn"
`
	if err := os.WriteFile(configPath, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config to be resolved from %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.TempDir != filepath.Join(tempHome, "scratch") {
		t.Fatalf("unexpected temp dir: %q", cfg.Paths.TempDir)
	}
	if cfg.FFmpegBinary() != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("unexpected ffmpeg binary: %q", cfg.FFmpegBinary())
	}
	if cfg.FFmpeg.HardwareAcceleration {
		t.Fatal("expected hardware acceleration disabled")
	}
	if cfg.FFmpeg.HWAccelMethod != "vaapi" {
		t.Fatalf("expected normalized hwaccel method, got %q", cfg.FFmpeg.HWAccelMethod)
	}
	if cfg.FFmpegTimeout() != 90*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.FFmpegTimeout())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if level, ok := cfg.StageLogLevel("encoding"); !ok || level != "warn" {
		t.Fatalf("expected encoding override warn, got %q %v", level, ok)
	}

	if cfg.Cache.MaxPreviews != 10 || cfg.Cache.PreviewTTLSeconds != 5 {
		t.Fatalf("unexpected cache settings: %+v", cfg.Cache)
	}
	if cfg.Cache.MaxMetadata != config.Default().Cache.MaxMetadata {
		t.Fatalf("expected default metadata capacity, got %d", cfg.Cache.MaxMetadata)
	}
}

func TestEnvironmentOverridesUseCoercion(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("RENDERPIPE_HWACCEL", "0")
	t.Setenv("RENDERPIPE_CACHE_MAX_MEMORY_MB", "64")
	t.Setenv("RENDERPIPE_FFMPEG", "/usr/local/bin/ffmpeg")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.FFmpeg.HardwareAcceleration {
		t.Fatal("expected env to disable hardware acceleration")
	}
	if cfg.Cache.MaxMemoryMB != 64 {
		t.Fatalf("expected memory ceiling 64, got %d", cfg.Cache.MaxMemoryMB)
	}
	if cfg.FFmpegBinary() != "/usr/local/bin/ffmpeg" {
		t.Fatalf("unexpected ffmpeg binary: %q", cfg.FFmpegBinary())
	}
}

func TestEnvironmentOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RENDERPIPE_MAX_CONCURRENT_JOBS", "lots")

	if _, _, _, err := config.Load(""); err == nil {
		t.Fatal("expected error for non-numeric override")
	} else if !strings.Contains(err.Error(), "RENDERPIPE_MAX_CONCURRENT_JOBS") {
		t.Fatalf("expected variable name in error, got %v", err)
	}
}

func TestDotEnvFileIsLoaded(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, ".env"), []byte("RENDERPIPE_FFPROBE=/env/ffprobe\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(workDir)
	t.Cleanup(func() { _ = os.Unsetenv("RENDERPIPE_FFPROBE") })

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.FFprobeBinary() != "/env/ffprobe" {
		t.Fatalf("expected ffprobe from .env, got %q", cfg.FFprobeBinary())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"hwaccel method", func(c *config.Config) { c.FFmpeg.HWAccelMethod = "opencl" }, "ffmpeg.hwaccel_method"},
		{"cache capacity", func(c *config.Config) { c.Cache.MaxRenders = -1 }, "cache.max_renders"},
		{"negative ttl", func(c *config.Config) { c.Cache.RenderTTLSeconds = -5 }, "cache.render_ttl_seconds"},
		{"publish bucket", func(c *config.Config) {
			c.Publish.Enabled = true
			c.Publish.Endpoint = "minio:9000"
			c.Publish.AccessKey = "a"
			c.Publish.SecretKey = "b"
		}, "publish.bucket"},
		{"publish backend", func(c *config.Config) {
			c.Publish.Enabled = true
			c.Publish.Backend = "gcs"
		}, "publish.backend"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"stage override", func(c *config.Config) { c.Logging.StageOverrides = map[string]string{"encoding": "loud"} }, "logging.stage_overrides"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config does not validate: %v", err)
	}
}

func TestEncodeRedactsSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Publish.SecretKey = "super-secret"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(data), "super-secret") {
		t.Fatal("expected secret to be redacted")
	}
	if cfg.Publish.SecretKey != "super-secret" {
		t.Fatal("Encode must not mutate the receiver")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.TempDir = filepath.Join(base, "tmp")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.HistoryDB = filepath.Join(base, "state", "history.db")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.TempDir, cfg.Paths.LogDir, cfg.Paths.OutputDir, filepath.Dir(cfg.Paths.HistoryDB)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist", dir)
		}
	}
}
