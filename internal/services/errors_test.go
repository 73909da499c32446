package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"renderpipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "encoding", "mux", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"encoding", "mux", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestFFmpegErrorCarriesDiagnostics(t *testing.T) {
	ffErr := &services.FFmpegError{ExitCode: 1, Stderr: "frame=1\nInvalid argument\n", Command: "ffmpeg -i in.mp4 out.mp4"}
	wrapped := &services.RenderError{JobID: "job-1", Stage: "encoding", Message: "transcode failed", Err: ffErr}

	if !errors.Is(wrapped, services.ErrExternalTool) {
		t.Fatal("expected render error to match external tool marker")
	}
	var target *services.FFmpegError
	if !errors.As(wrapped, &target) {
		t.Fatal("expected FFmpegError in chain")
	}
	if target.ExitCode != 1 || target.Command == "" {
		t.Fatalf("unexpected ffmpeg error fields: %+v", target)
	}
	if !strings.Contains(ffErr.Error(), "Invalid argument") {
		t.Fatalf("expected stderr tail in message, got %q", ffErr.Error())
	}
	for _, fragment := range []string{"job-1", "encoding", "transcode failed"} {
		if !strings.Contains(wrapped.Error(), fragment) {
			t.Fatalf("expected %q in %q", fragment, wrapped.Error())
		}
	}
}

func TestKindAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      string
		retryable bool
	}{
		{"validation", services.Validation("validation", "empty project"), "validation", false},
		{"ffmpeg", fmt.Errorf("stage: %w", &services.FFmpegError{ExitCode: 2}), "ffmpeg", false},
		{"dependency", &services.DependencyError{Binary: "ffmpeg"}, "dependency_missing", false},
		{"resource", services.Resource("validation", "disk full"), "resource", false},
		{"timeout", services.Timeout("encoding", "ffmpeg", nil), "timeout", true},
		{"io", services.IO("finalization", "rename", errors.New("exdev")), "io", true},
		{"cache", services.Wrap(services.ErrCache, "preprocessing", "", "", nil), "cache", true},
		{"cancelled", services.Cancelled("job-9"), "cancelled", false},
		{"transient", services.Wrap(nil, "", "", "", nil), "unknown", true},
		{"plain", errors.New("plain"), "unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Kind(tt.err); got != tt.kind {
				t.Fatalf("Kind() = %q, want %q", got, tt.kind)
			}
			if got := services.Retryable(tt.err); got != tt.retryable {
				t.Fatalf("Retryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
	if services.Kind(nil) != "" {
		t.Fatal("expected empty kind for nil error")
	}
}
