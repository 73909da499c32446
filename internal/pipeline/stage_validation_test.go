package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"renderpipe/internal/deps"
	"renderpipe/internal/pipeline"
	"renderpipe/internal/rendercache"
	"renderpipe/internal/services"
	"renderpipe/internal/testsupport"
)

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, f *fixture)
		target error
		want   string
	}{
		{
			name: "missing source",
			mutate: func(t *testing.T, f *fixture) {
				if err := os.Remove(filepath.Join(testsupport.BaseDir(f.cfg), "media", "a.mp4")); err != nil {
					t.Fatalf("remove source: %v", err)
				}
			},
			target: services.ErrValidation,
			want:   "does not exist",
		},
		{
			name: "missing binary",
			mutate: func(_ *testing.T, f *fixture) {
				f.opts.Requirements = []deps.Requirement{{Name: "FFmpeg", Command: "renderpipe-no-such-ffmpeg"}}
			},
			target: services.ErrDependencyMissing,
			want:   "renderpipe-no-such-ffmpeg",
		},
		{
			name: "low disk",
			mutate: func(_ *testing.T, f *fixture) {
				f.opts.MinFreeBytes = 1 << 30
				f.opts.FreeSpace = func(string) (uint64, error) { return 1, nil }
			},
			target: services.ErrResource,
			want:   "need 1.0 GiB",
		},
		{
			name: "short source",
			mutate: func(_ *testing.T, f *fixture) {
				f.opts.Probe = func(_ context.Context, path string) (rendercache.MediaMetadata, error) {
					return rendercache.MediaMetadata{Path: path, Duration: 2}, nil
				}
			},
			target: services.ErrValidation,
			want:   "only 2.000s long",
		},
		{
			name: "probe failure",
			mutate: func(_ *testing.T, f *fixture) {
				f.opts.Probe = func(context.Context, string) (rendercache.MediaMetadata, error) {
					return rendercache.MediaMetadata{}, errors.New("moov atom not found")
				}
			},
			target: services.ErrExternalTool,
			want:   "moov atom not found",
		},
		{
			name: "invalid project",
			mutate: func(_ *testing.T, f *fixture) {
				f.project.Tracks[0].Clips[1].End = f.project.Tracks[0].Clips[1].Start
			},
			target: services.ErrValidation,
			want:   "end must be greater than start",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(t, f)
			p := f.pipeline(nil)
			_, err := p.Execute(context.Background(), "job-invalid")
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
			if stage := p.Statistics().FailedStage; stage != pipeline.StageValidation {
				t.Fatalf("expected failure in validation, got %q", stage)
			}
			if len(f.runner.Commands()) != 0 {
				t.Fatal("expected no transcode after validation failure")
			}
		})
	}
}

func TestValidationReusesCachedMetadata(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline(nil).Execute(context.Background(), "first"); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := f.pipeline(nil).Execute(context.Background(), "second"); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if got := f.probes.Load(); got != 3 {
		t.Fatalf("expected probe results to be cached across runs, got %d probes", got)
	}
}

func TestValidationSkipsProbeWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.opts.ProbeSources = false
	p := f.pipeline(nil)
	if _, err := p.Execute(context.Background(), "no-probe"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.probes.Load() != 0 {
		t.Fatalf("expected no probes, got %d", f.probes.Load())
	}
	if _, ok := p.Context().Get(pipeline.KeyProbedSources); ok {
		t.Fatal("expected probed_sources to be unset")
	}
}

func TestValidationRejectsMissingOutputDirectory(t *testing.T) {
	f := newFixture(t)
	output := filepath.Join(f.cfg.Paths.OutputDir, "missing", "out.mp4")
	p := pipeline.New(f.project, nil, f.opts, output)
	_, err := p.Execute(context.Background(), "no-dir")
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected output directory validation error, got %v", err)
	}
}
