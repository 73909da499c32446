package history

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a recorded job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus normalizes a textual status. Unknown values return false.
func ParseStatus(value string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(value))); s {
	case StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return s, true
	default:
		return "", false
	}
}

// Record is one render job row.
type Record struct {
	ID             int64
	JobID          string
	ProjectName    string
	OutputPath     string
	Status         Status
	FailedStage    string
	ErrorKind      string
	ErrorMessage   string
	StageDurations map[string]time.Duration
	OutputSize     int64
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration returns wall-clock time from start to finish, or zero while running.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome describes how a job ended.
type Outcome struct {
	Status         Status
	FailedStage    string
	ErrorKind      string
	ErrorMessage   string
	StageDurations map[string]time.Duration
	OutputSize     int64
}
