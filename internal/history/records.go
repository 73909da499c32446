package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const recordColumns = `id, job_id, project_name, output_path, status, failed_stage, error_kind,
    error_message, stage_durations_json, output_size, started_at, finished_at`

// Start records a running job. Restarting a job id resets its row.
func (s *Store) Start(ctx context.Context, jobID, projectName, outputPath string) error {
	if strings.TrimSpace(jobID) == "" {
		return errors.New("history: job id is required")
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(ctx,
		`INSERT INTO render_jobs (job_id, project_name, output_path, status, started_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(job_id) DO UPDATE SET
            project_name = excluded.project_name,
            output_path = excluded.output_path,
            status = excluded.status,
            failed_stage = NULL,
            error_kind = NULL,
            error_message = NULL,
            stage_durations_json = NULL,
            output_size = 0,
            started_at = excluded.started_at,
            finished_at = NULL`,
		jobID, projectName, outputPath, StatusRunning, now,
	)
	if err != nil {
		return fmt.Errorf("record job start: %w", err)
	}
	return nil
}

// Finish stores the outcome of a job previously passed to Start.
func (s *Store) Finish(ctx context.Context, jobID string, outcome Outcome) error {
	durations, err := encodeDurations(outcome.StageDurations)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE render_jobs SET status = ?, failed_stage = ?, error_kind = ?, error_message = ?,
            stage_durations_json = ?, output_size = ?, finished_at = ?
         WHERE job_id = ?`,
		outcome.Status,
		nullableString(outcome.FailedStage),
		nullableString(outcome.ErrorKind),
		nullableString(outcome.ErrorMessage),
		durations,
		outcome.OutputSize,
		formatTime(time.Now()),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("record job finish: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("record job finish: job %s was never started", jobID)
	}
	return nil
}

// Get returns the record for jobID, or nil when absent.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM render_jobs WHERE job_id = ?`, jobID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return record, nil
}

// List returns the most recent jobs first, optionally filtered by status. A
// limit <= 0 returns every row.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM render_jobs`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Stats returns job counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM render_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Prune deletes finished jobs that started before cutoff and returns how many
// rows were removed. Running jobs are kept.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM render_jobs WHERE status != ? AND started_at < ?`,
		StatusRunning, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// MarkInterrupted flips jobs left running by a crashed process to failed.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE render_jobs SET status = ?, error_kind = 'interrupted',
            error_message = 'process exited before the job finished', finished_at = ?
         WHERE status = ?`,
		StatusFailed, formatTime(time.Now()), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		record                          Record
		failedStage, errorKind, message sql.NullString
		durations, finished             sql.NullString
		started                         string
	)
	if err := row.Scan(
		&record.ID, &record.JobID, &record.ProjectName, &record.OutputPath, &record.Status,
		&failedStage, &errorKind, &message, &durations, &record.OutputSize, &started, &finished,
	); err != nil {
		return nil, err
	}
	record.FailedStage = failedStage.String
	record.ErrorKind = errorKind.String
	record.ErrorMessage = message.String
	record.StartedAt = parseTime(started)
	if finished.Valid {
		record.FinishedAt = parseTime(finished.String)
	}
	if durations.Valid && durations.String != "" {
		decoded, err := decodeDurations(durations.String)
		if err != nil {
			return nil, err
		}
		record.StageDurations = decoded
	}
	return &record, nil
}

// stage durations are stored as milliseconds keyed by stage name.
func encodeDurations(durations map[string]time.Duration) (any, error) {
	if len(durations) == 0 {
		return nil, nil
	}
	ms := make(map[string]int64, len(durations))
	for stage, d := range durations {
		ms[stage] = d.Milliseconds()
	}
	data, err := json.Marshal(ms)
	if err != nil {
		return nil, fmt.Errorf("encode stage durations: %w", err)
	}
	return string(data), nil
}

func decodeDurations(payload string) (map[string]time.Duration, error) {
	var ms map[string]int64
	if err := json.Unmarshal([]byte(payload), &ms); err != nil {
		return nil, fmt.Errorf("decode stage durations: %w", err)
	}
	durations := make(map[string]time.Duration, len(ms))
	for stage, value := range ms {
		durations[stage] = time.Duration(value) * time.Millisecond
	}
	return durations, nil
}

// timestamps use a fixed-width layout so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
