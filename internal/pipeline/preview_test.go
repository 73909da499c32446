package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"renderpipe/internal/pipeline"
	"renderpipe/internal/services"
)

func TestRenderPreviewUsesCache(t *testing.T) {
	f := newFixture(t)
	req := pipeline.PreviewRequest{Timestamp: 2.5}

	first, err := pipeline.RenderPreview(context.Background(), f.project, req, f.opts)
	if err != nil {
		t.Fatalf("RenderPreview: %v", err)
	}
	if string(first) != "rendered:frame.jpg" {
		t.Fatalf("unexpected preview bytes %q", first)
	}
	second, err := pipeline.RenderPreview(context.Background(), f.project, req, f.opts)
	if err != nil {
		t.Fatalf("RenderPreview (cached): %v", err)
	}
	if string(second) != string(first) {
		t.Fatalf("cached preview differs: %q vs %q", second, first)
	}
	if n := len(f.runner.Commands()); n != 1 {
		t.Fatalf("expected one transcode, got %d", n)
	}

	key := pipeline.PreviewKey(f.project, pipeline.PreviewRequest{
		Timestamp:  2.5,
		Resolution: f.project.Settings.Resolution,
		Quality:    75,
	})
	if _, ok := f.cache.GetPreview(key); !ok {
		t.Fatalf("expected preview stored under %s", key.String())
	}
	assertNoScratchDirs(t, f.cfg.Paths.TempDir)
}

func TestRenderPreviewInvalidatedByEdit(t *testing.T) {
	f := newFixture(t)
	req := pipeline.PreviewRequest{Timestamp: 1}
	if _, err := pipeline.RenderPreview(context.Background(), f.project, req, f.opts); err != nil {
		t.Fatalf("RenderPreview: %v", err)
	}
	f.project.Tracks[1].Clips[0].Volume = 0.5
	if _, err := pipeline.RenderPreview(context.Background(), f.project, req, f.opts); err != nil {
		t.Fatalf("RenderPreview after edit: %v", err)
	}
	if n := len(f.runner.Commands()); n != 2 {
		t.Fatalf("expected edit to force a new preview, got %d transcodes", n)
	}
}

func TestRenderPreviewRejectsTimestampOutsideTimeline(t *testing.T) {
	f := newFixture(t)
	for _, ts := range []float64{-1, 10.5} {
		_, err := pipeline.RenderPreview(context.Background(), f.project, pipeline.PreviewRequest{Timestamp: ts}, f.opts)
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("timestamp %v: expected validation error, got %v", ts, err)
		}
	}
	if len(f.runner.Commands()) != 0 {
		t.Fatal("expected no transcode for rejected previews")
	}
}

func TestRenderSegmentCachesWindow(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.cfg.Paths.OutputDir, "segment.mp4")
	got, err := pipeline.RenderSegment(context.Background(), f.project, pipeline.SegmentRequest{Start: 2, End: 6, OutputPath: out}, f.opts)
	if err != nil {
		t.Fatalf("RenderSegment: %v", err)
	}
	if got != out {
		t.Fatalf("expected %q, got %q", out, got)
	}
	commands := f.runner.Commands()
	if len(commands) != 1 {
		t.Fatalf("expected one transcode, got %d", len(commands))
	}
	if value := lastValue(commands[0].Args, "-t"); value != "4" {
		t.Fatalf("expected a 4 second segment, got %q", value)
	}

	copyPath := filepath.Join(f.cfg.Paths.OutputDir, "segment-copy.mp4")
	if _, err := pipeline.RenderSegment(context.Background(), f.project, pipeline.SegmentRequest{Start: 2, End: 6, OutputPath: copyPath}, f.opts); err != nil {
		t.Fatalf("RenderSegment (cached): %v", err)
	}
	if n := len(f.runner.Commands()); n != 1 {
		t.Fatalf("expected cached segment to be copied, got %d transcodes", n)
	}
	original, _ := os.ReadFile(out)
	copied, err := os.ReadFile(copyPath)
	if err != nil || string(copied) != string(original) {
		t.Fatalf("expected copied segment to match, got %q (%v)", copied, err)
	}
	assertNoScratchDirs(t, f.cfg.Paths.TempDir)
}

func TestRenderSegmentRejectsBadWindow(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.cfg.Paths.OutputDir, "segment.mp4")
	_, err := pipeline.RenderSegment(context.Background(), f.project, pipeline.SegmentRequest{Start: 6, End: 2, OutputPath: out}, f.opts)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func assertNoScratchDirs(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		t.Fatalf("read temp root: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "preview-") || strings.HasPrefix(entry.Name(), "segment-") {
			t.Fatalf("expected scratch dir to be removed, found %s", entry.Name())
		}
	}
}

// lastValue returns the argument after the final occurrence of flag, which
// for -t is the output duration rather than an input trim.
func lastValue(args []string, flag string) string {
	for i := len(args) - 2; i >= 0; i-- {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
