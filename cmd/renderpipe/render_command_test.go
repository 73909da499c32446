package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"renderpipe/internal/services"
)

func TestRenderCommandJSONAndHistory(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"render", env.projectPath, "--json", "--job-id", "cli-1"}, env.configPath)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var result renderResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode render json: %v\n%s", err, out)
	}
	wantOutput := filepath.Join(env.cfg.Paths.OutputDir, "promo.mp4")
	if result.JobID != "cli-1" || result.Status != "completed" || result.OutputPath != wantOutput {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.StageDurations) != 5 {
		t.Fatalf("expected 5 stage timings, got %v", result.StageDurations)
	}
	data, err := os.ReadFile(wantOutput)
	if err != nil || string(data) != "rendered" {
		t.Fatalf("unexpected output %q: %v", data, err)
	}

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var rows []historyRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode history json: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0].JobID != "cli-1" || rows[0].Status != "completed" || rows[0].Project != "sample" {
		t.Fatalf("unexpected history rows: %+v", rows)
	}

	out, _, err = runCLI(t, []string{"history", "show", "cli-1"}, env.configPath)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "Encoding")
	requireContains(t, out, wantOutput)

	if _, _, err := runCLI(t, []string{"history", "show", "missing"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown job")
	}
	if _, _, err := runCLI(t, []string{"history", "--status", "exploded"}, env.configPath); err == nil {
		t.Fatal("expected error for unknown status filter")
	}
}

func TestRenderCommandSummary(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(env.baseDir, "custom.mp4")

	out, stderr, err := runCLI(t, []string{"render", env.projectPath, "-o", target, "--job-id", "cli-2"}, env.configPath)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	requireContains(t, out, "Render job cli-2: Completed")
	requireContains(t, out, "Output: "+target)
	requireContains(t, stderr, "Encoding")
}

func TestRenderCommandMissingProject(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"render", filepath.Join(env.baseDir, "nope.json")}, env.configPath)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPreviewAndSegmentCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	frame := filepath.Join(env.baseDir, "frame.jpg")

	out, _, err := runCLI(t, []string{"preview", env.projectPath, "--at", "2.5", "-o", frame}, env.configPath)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	requireContains(t, out, "Wrote preview at 2.500s")
	if data, err := os.ReadFile(frame); err != nil || string(data) != "rendered" {
		t.Fatalf("unexpected frame %q: %v", data, err)
	}

	if _, _, err := runCLI(t, []string{"preview", env.projectPath, "--at", "99"}, env.configPath); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for timestamp past the end, got %v", err)
	}

	segment := filepath.Join(env.baseDir, "segment.mp4")
	out, _, err = runCLI(t, []string{"segment", env.projectPath, "--start", "2", "--end", "6", "-o", segment}, env.configPath)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	requireContains(t, out, "Wrote segment [2.000s, 6.000s)")
	if _, err := os.Stat(segment); err != nil {
		t.Fatalf("expected segment file: %v", err)
	}

	if _, _, err := runCLI(t, []string{"segment", env.projectPath, "--start", "2", "--end", "6"}, env.configPath); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without --output, got %v", err)
	}
}
