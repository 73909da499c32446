package worker

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"renderpipe/internal/pipeline"
	"renderpipe/internal/services"
)

// Job is the message body accepted on the listen queue.
type Job struct {
	JobID       string `json:"job_id"`
	ProjectPath string `json:"project_path"`
	OutputPath  string `json:"output_path"`
}

// Status values published for a job.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Status is the message body published on the status queue.
type Status struct {
	JobID          string           `json:"job_id"`
	Stage          string           `json:"stage,omitempty"`
	Status         string           `json:"status"`
	Progress       float64          `json:"progress"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Error          string           `json:"error,omitempty"`
	OutputPath     string           `json:"output_path,omitempty"`
	PublishedURL   string           `json:"published_url,omitempty"`
	StageDurations map[string]int64 `json:"stage_durations_ms,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// DecodeJob parses and checks a job message.
func DecodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, services.Wrap(services.ErrValidation, "worker", "decode job", "", err)
	}
	job.JobID = strings.TrimSpace(job.JobID)
	job.ProjectPath = strings.TrimSpace(job.ProjectPath)
	job.OutputPath = strings.TrimSpace(job.OutputPath)
	if job.ProjectPath == "" {
		return Job{}, services.Validation("worker", "project_path is required")
	}
	return job, nil
}

// resolveOutput places relative or missing output paths under outputDir.
func resolveOutput(job Job, outputDir, format string) string {
	out := job.OutputPath
	if out == "" {
		ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
		if ext == "" {
			ext = "mp4"
		}
		out = fmt.Sprintf("%s.%s", job.JobID, ext)
	}
	if !filepath.IsAbs(out) && outputDir != "" {
		out = filepath.Join(outputDir, out)
	}
	return filepath.Clean(out)
}

func finalStatus(job Job, stats pipeline.Statistics, pc *pipeline.Context, err error) Status {
	status := Status{
		JobID:      job.JobID,
		Status:     StatusCompleted,
		Progress:   100,
		OutputPath: stats.OutputPath,
		Timestamp:  time.Now().UTC(),
	}
	if len(stats.StageDurations) > 0 {
		status.StageDurations = make(map[string]int64, len(stats.StageDurations))
		for name, d := range stats.StageDurations {
			status.StageDurations[name] = d.Milliseconds()
		}
	}
	if pc != nil {
		status.PublishedURL = pc.GetString(pipeline.KeyPublishedURL)
	}
	if err == nil {
		return status
	}
	status.Status = StatusFailed
	if services.Kind(err) == "cancelled" {
		status.Status = StatusCancelled
	}
	status.Progress = 0
	status.Stage = stats.FailedStage
	status.ErrorKind = services.Kind(err)
	status.Error = err.Error()
	return status
}
