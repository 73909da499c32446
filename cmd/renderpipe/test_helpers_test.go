package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"renderpipe/internal/config"
	"renderpipe/internal/testsupport"
)

const probeScript = `#!/bin/sh
cat <<'JSON'
{"streams":[{"index":0,"codec_name":"h264","codec_type":"video","width":1280,"height":720,"r_frame_rate":"30/1"}],
 "format":{"duration":"12.5","size":"2048","format_name":"mov,mp4"}}
JSON
`

type cliTestEnv struct {
	cfg         *config.Config
	configPath  string
	projectPath string
	baseDir     string
}

func setupCLITestEnv(t *testing.T, mutate ...func(*config.Config)) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithFFmpegScript(testsupport.RenderScript))
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	probe := filepath.Join(base, "bin", "ffprobe-stub")
	if err := os.WriteFile(probe, []byte(probeScript), 0o755); err != nil {
		t.Fatalf("write ffprobe stub: %v", err)
	}
	cfg.FFmpeg.ProbeBinary = probe
	cfg.Pipeline.ProbeSources = false
	cfg.Logging.Level = "error"
	for _, fn := range mutate {
		fn(cfg)
	}

	configPath := filepath.Join(base, "renderpipe.toml")
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	p := testsupport.SampleProject(t, base)
	projectPath := filepath.Join(base, "promo.json")
	if err := p.Save(projectPath); err != nil {
		t.Fatalf("save project: %v", err)
	}

	return &cliTestEnv{
		cfg:         cfg,
		configPath:  configPath,
		projectPath: projectPath,
		baseDir:     base,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
