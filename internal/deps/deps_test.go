package deps

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"renderpipe/internal/config"
	"renderpipe/internal/services"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank command status: %#v", results[2])
	}
}

func TestRequirementsFor(t *testing.T) {
	cfg := config.Default()
	cfg.FFmpeg.Binary = "/opt/ffmpeg"
	cfg.Pipeline.ProbeSources = false

	reqs := RequirementsFor(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(reqs))
	}
	if reqs[0].Command != "/opt/ffmpeg" || reqs[0].Optional {
		t.Fatalf("unexpected ffmpeg requirement: %+v", reqs[0])
	}
	if reqs[1].Command != "ffprobe" || !reqs[1].Optional {
		t.Fatalf("expected optional ffprobe when probing disabled: %+v", reqs[1])
	}

	cfg.Pipeline.ProbeSources = true
	if RequirementsFor(&cfg)[1].Optional {
		t.Fatal("expected ffprobe required when probing enabled")
	}
}

func TestFirstMissing(t *testing.T) {
	statuses := []Status{
		{Name: "FFmpeg", Command: "ffmpeg", Available: true},
		{Name: "FFprobe", Command: "ffprobe", Optional: true},
	}
	if err := FirstMissing(statuses); err != nil {
		t.Fatalf("expected optional miss to be ignored, got %v", err)
	}

	statuses[0] = Status{Name: "FFmpeg", Command: "ffmpeg", Detail: `binary "ffmpeg" not found`}
	err := FirstMissing(statuses)
	if !errors.Is(err, services.ErrDependencyMissing) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	var depErr *services.DependencyError
	if !errors.As(err, &depErr) || depErr.Binary != "ffmpeg" {
		t.Fatalf("unexpected dependency error: %#v", err)
	}
}
