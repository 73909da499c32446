package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrExternalTool      = errors.New("external tool error")
	ErrDependencyMissing = errors.New("dependency missing")
	ErrResource          = errors.New("insufficient resources")
	ErrTimeout           = errors.New("timeout")
	ErrIO                = errors.New("io error")
	ErrCache             = errors.New("cache error")
	ErrCancelled         = errors.New("cancelled")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
	ErrTransient         = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Validation reports a schema or configuration problem detected before any work runs.
func Validation(stage, message string) error {
	return Wrap(ErrValidation, stage, "", message, nil)
}

// Resource reports insufficient disk or memory.
func Resource(stage, message string) error {
	return Wrap(ErrResource, stage, "", message, nil)
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(stage, operation string, err error) error {
	return Wrap(ErrTimeout, stage, operation, "deadline exceeded", err)
}

// IO tags a filesystem failure.
func IO(stage, operation string, err error) error {
	return Wrap(ErrIO, stage, operation, "", err)
}

// Cancelled reports a user-initiated cancellation of a render job.
func Cancelled(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: render job", ErrCancelled)
	}
	return fmt.Errorf("%w: render job %s", ErrCancelled, jobID)
}

// FFmpegError describes a transcoder process that exited unsuccessfully.
type FFmpegError struct {
	ExitCode int
	Stderr   string
	Command  string
}

func (e *FFmpegError) Error() string {
	msg := fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Is lets errors.Is(err, ErrExternalTool) match transcoder failures.
func (e *FFmpegError) Is(target error) bool {
	return target == ErrExternalTool
}

// DependencyError reports a required external binary that could not be resolved.
type DependencyError struct {
	Binary string
	Detail string
}

func (e *DependencyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("dependency missing: %s (%s)", e.Binary, e.Detail)
	}
	return fmt.Sprintf("dependency missing: %s", e.Binary)
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyMissing
}

// RenderError attributes a failure to a job and stage.
type RenderError struct {
	JobID   string
	Stage   string
	Message string
	Err     error
}

func (e *RenderError) Error() string {
	var b strings.Builder
	b.WriteString("render")
	if e.JobID != "" {
		b.WriteString(" job ")
		b.WriteString(e.JobID)
	}
	if e.Stage != "" {
		b.WriteString(" stage ")
		b.WriteString(e.Stage)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Kind returns a short classification label for err.
func Kind(err error) string {
	var ffErr *FFmpegError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return "validation"
	case errors.As(err, &ffErr):
		return "ffmpeg"
	case errors.Is(err, ErrDependencyMissing):
		return "dependency_missing"
	case errors.Is(err, ErrResource):
		return "resource"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrCache):
		return "cache"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether a caller may reasonably resubmit the job unchanged.
func Retryable(err error) bool {
	switch Kind(err) {
	case "timeout", "io", "cache":
		return true
	case "unknown":
		return errors.Is(err, ErrTransient)
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

func lastLine(value string) string {
	lines := strings.Split(strings.TrimSpace(value), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
