package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"renderpipe/internal/history"
)

// Statistics accumulates timing and outcome for one Execute call.
type Statistics struct {
	JobID     string
	Status    history.Status
	StartedAt time.Time
	// FinishedAt is zero while the job runs.
	FinishedAt time.Time

	// StageDurations has one entry per stage that ran; skipped stages are
	// absent.
	StageDurations map[string]time.Duration
	StageOrder     []string
	SkippedStages  []string
	FailedStage    string
	ErrorKind      string
	ErrorMessage   string

	TotalDuration time.Duration
	OutputPath    string
	OutputSize    int64
}

func (s Statistics) clone() Statistics {
	out := s
	out.StageDurations = maps.Clone(s.StageDurations)
	out.StageOrder = slices.Clone(s.StageOrder)
	out.SkippedStages = slices.Clone(s.SkippedStages)
	return out
}

// Outcome converts the statistics into a history outcome.
func (s Statistics) Outcome() history.Outcome {
	return history.Outcome{
		Status:         s.Status,
		FailedStage:    s.FailedStage,
		ErrorKind:      s.ErrorKind,
		ErrorMessage:   s.ErrorMessage,
		StageDurations: maps.Clone(s.StageDurations),
		OutputSize:     s.OutputSize,
	}
}

// StageLabel formats a stage name for display, e.g. "frame_cache" -> "Frame Cache".
func StageLabel(name string) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(name, "_", " "))
}

// Summary renders a plain-text report of the run.
func (s Statistics) Summary(stageNames []string) string {
	var b strings.Builder
	status := string(s.Status)
	if status == "" {
		status = "pending"
	}
	id := s.JobID
	if id == "" {
		id = "(not started)"
	}
	fmt.Fprintf(&b, "Render job %s: %s", id, cases.Title(language.Und).String(status))
	if s.TotalDuration > 0 {
		fmt.Fprintf(&b, " in %s", s.TotalDuration.Round(time.Millisecond))
	}
	b.WriteString("\n")

	width := 0
	for _, name := range stageNames {
		width = max(width, len(StageLabel(name)))
	}
	for _, name := range stageNames {
		label := StageLabel(name)
		var detail string
		switch {
		case name == s.FailedStage && s.Status == history.StatusFailed:
			detail = "failed"
			if s.ErrorKind != "" {
				detail += " (" + s.ErrorKind + ")"
			}
		case name == s.FailedStage && s.Status == history.StatusCancelled:
			detail = "cancelled"
		case slices.Contains(s.SkippedStages, name):
			detail = "skipped"
		default:
			d, ok := s.StageDurations[name]
			if !ok {
				detail = "-"
			} else {
				detail = d.Round(time.Millisecond).String()
			}
		}
		fmt.Fprintf(&b, "  %-*s  %s\n", width, label, detail)
	}
	if s.Status == history.StatusCompleted {
		fmt.Fprintf(&b, "  Output: %s (%s)\n", s.OutputPath, humanize.Bytes(uint64(max(s.OutputSize, 0))))
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(&b, "  Error: %s\n", s.ErrorMessage)
	}
	return b.String()
}
