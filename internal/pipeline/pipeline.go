package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/fileutil"
	"renderpipe/internal/history"
	"renderpipe/internal/logging"
	"renderpipe/internal/project"
	"renderpipe/internal/services"
)

// ErrPipelineRunning is returned when the stage list is changed or Execute is
// called while a run is in progress.
var ErrPipelineRunning = errors.New("pipeline is running")

// RenderPipeline drives one render job through an ordered list of stages.
type RenderPipeline struct {
	opts   Options
	logger *slog.Logger
	pc     *Context

	mu        sync.Mutex
	stages    []Stage
	running   bool
	cancelRun context.CancelFunc
	stats     Statistics
}

// New builds a pipeline for p that writes outputPath, with the five default
// stages registered in order. tracker may be nil.
func New(p *project.Schema, tracker ProgressTracker, opts Options, outputPath string) *RenderPipeline {
	opts = opts.withDefaults()
	logger := logging.NewComponentLogger(opts.Logger, "pipeline")

	pc := NewContext(p, outputPath, opts.TempRoot)
	pc.Tracker = tracker
	pc.Cache = opts.Cache
	pc.Logger = logger
	if p != nil {
		pc.Builder = ffmpeg.NewBuilder(p, opts.FFmpeg)
	}

	return &RenderPipeline{
		opts:   opts,
		logger: logger,
		pc:     pc,
		stages: DefaultStages(opts),
	}
}

// DefaultStages returns validation, preprocessing, composition, encoding, and
// finalization configured from opts.
func DefaultStages(opts Options) []Stage {
	return []Stage{
		NewValidationStage(opts),
		NewPreprocessingStage(opts),
		NewCompositionStage(opts),
		NewEncodingStage(opts),
		NewFinalizationStage(opts),
	}
}

// Context exposes the job context, e.g. to read user data after a run.
func (p *RenderPipeline) Context() *Context {
	return p.pc
}

// StageNames lists registered stages in execution order.
func (p *RenderPipeline) StageNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.stages))
	for i, stage := range p.stages {
		names[i] = stage.Name()
	}
	return names
}

// IsRunning reports whether Execute is in progress.
func (p *RenderPipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// AddStage appends stage.
func (p *RenderPipeline) AddStage(stage Stage) error {
	return p.InsertStage(-1, stage)
}

// InsertStage inserts stage before index. An index of -1 appends.
func (p *RenderPipeline) InsertStage(index int, stage Stage) error {
	if stage == nil {
		return errors.New("insert stage: nil stage")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrPipelineRunning
	}
	if index == -1 {
		index = len(p.stages)
	}
	if index < 0 || index > len(p.stages) {
		return fmt.Errorf("insert stage %s: index %d out of range [0, %d]", stage.Name(), index, len(p.stages))
	}
	p.stages = slices.Insert(p.stages, index, stage)
	return nil
}

// RemoveStage removes the first stage named name and reports whether one was
// found.
func (p *RenderPipeline) RemoveStage(name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false, ErrPipelineRunning
	}
	idx := slices.IndexFunc(p.stages, func(s Stage) bool { return s.Name() == name })
	if idx < 0 {
		return false, nil
	}
	p.stages = slices.Delete(p.stages, idx, idx+1)
	return true, nil
}

// ValidateConfiguration checks that a run could start: at least one stage,
// a named project, and an existing output directory.
func (p *RenderPipeline) ValidateConfiguration() error {
	p.mu.Lock()
	stageCount := len(p.stages)
	p.mu.Unlock()

	var problems []string
	if stageCount == 0 {
		problems = append(problems, "no stages registered")
	}
	if p.pc.Project == nil {
		problems = append(problems, "project is required")
	} else if strings.TrimSpace(p.pc.Project.Metadata.Name) == "" {
		problems = append(problems, "project name is required")
	}
	if strings.TrimSpace(p.pc.OutputPath) == "" {
		problems = append(problems, "output path is required")
	} else {
		dir := filepath.Dir(p.pc.OutputPath)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			problems = append(problems, fmt.Sprintf("output directory %s does not exist", dir))
		}
	}
	if len(problems) > 0 {
		return services.Validation("pipeline", strings.Join(problems, "; "))
	}
	return nil
}

// Cancel requests cancellation. The flag is observed before the next stage
// starts and the running stage's context is cancelled. When no run is in
// progress the temp directory is removed immediately.
func (p *RenderPipeline) Cancel() {
	p.pc.markCancelled()
	p.mu.Lock()
	cancel := p.cancelRun
	running := p.running
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !running {
		if err := p.pc.CleanupTempDir(); err != nil {
			p.logger.Debug("temp cleanup after cancel failed", logging.Error(err))
		}
	}
	p.logger.Info("pipeline cancel requested",
		logging.String(logging.FieldEventType, "pipeline_cancel_requested"),
		logging.String(logging.FieldJobID, p.pc.JobID),
		logging.Bool("running", running),
	)
}

// Statistics returns a snapshot of the current or last run.
func (p *RenderPipeline) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.clone()
}

// ExecutionSummary renders the last run as plain text.
func (p *RenderPipeline) ExecutionSummary() string {
	return p.Statistics().Summary(p.StageNames())
}

// HealthCheck reports readiness for every stage that implements HealthChecker.
func (p *RenderPipeline) HealthCheck(ctx context.Context) []Health {
	p.mu.Lock()
	stages := slices.Clone(p.stages)
	p.mu.Unlock()
	var results []Health
	for _, stage := range stages {
		if checker, ok := stage.(HealthChecker); ok {
			results = append(results, checker.HealthCheck(ctx))
		}
	}
	return results
}

// Execute runs every stage in order and returns the output path. A blank
// jobID is replaced with a generated one. Stage errors are returned
// unchanged; cancellation yields an error matching services.ErrCancelled.
func (p *RenderPipeline) Execute(ctx context.Context, jobID string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(jobID) == "" {
		jobID = uuid.NewString()
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return "", ErrPipelineRunning
	}
	stages := slices.Clone(p.stages)
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancelRun = cancel
	p.stats = Statistics{
		JobID:          jobID,
		Status:         history.StatusRunning,
		StartedAt:      time.Now(),
		StageDurations: make(map[string]time.Duration),
		OutputPath:     p.pc.OutputPath,
	}
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		p.running = false
		p.cancelRun = nil
		p.mu.Unlock()
	}()

	pc := p.pc
	pc.resetRun(jobID)
	runCtx = services.WithJobID(runCtx, jobID)
	if _, ok := services.RequestIDFromContext(runCtx); !ok {
		runCtx = services.WithRequestID(runCtx, uuid.NewString())
	}
	logger := logging.WithContext(runCtx, p.logger)
	pc.Logger = logger

	p.recordStart(runCtx, logger)
	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.String("output", pc.OutputPath),
		logging.Int("stages", len(stages)),
	)

	if len(stages) == 0 {
		return p.finish(runCtx, logger, "", services.Validation("pipeline", "no stages registered"))
	}
	if _, err := pc.TempDir(); err != nil {
		return p.finish(runCtx, logger, "", services.IO("pipeline", "create temp dir", err))
	}
	unlock, err := lockOutput(pc.OutputPath)
	if err != nil {
		return p.finish(runCtx, logger, "", err)
	}
	defer unlock()

	share := 100 / float64(len(stages))
	for i, stage := range stages {
		name := stage.Name()
		if pc.IsCancelled() || runCtx.Err() != nil {
			return p.finish(runCtx, logger, name, services.Cancelled(jobID))
		}

		stageCtx := logging.WithStage(runCtx, name)
		stageLogger := logging.ForStage(logging.WithContext(stageCtx, p.logger), p.opts.StageLevels, name)
		base := float64(i) * share
		pc.enterStage(name, base, share, stageLogger)

		if stage.CanSkip(pc) {
			stageLogger.Info("stage skipped", logging.String(logging.FieldEventType, "stage_skipped"))
			p.mu.Lock()
			p.stats.SkippedStages = append(p.stats.SkippedStages, name)
			p.mu.Unlock()
			pc.report(base+share, name+" skipped")
			continue
		}

		stageLogger.Info("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.Duration("estimated_duration", stage.EstimatedDuration(pc)),
		)
		pc.report(base, name+" started")
		started := time.Now()
		err := stage.Process(stageCtx, pc)
		elapsed := time.Since(started)
		if err != nil {
			if (pc.IsCancelled() || runCtx.Err() != nil) && !errors.Is(err, services.ErrCancelled) {
				err = services.Wrap(services.ErrCancelled, name, "", "job cancelled", err)
			}
			stageLogger.Error("stage failed",
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Duration("stage_duration", elapsed),
				logging.Error(err),
			)
			return p.finish(runCtx, logger, name, err)
		}

		p.mu.Lock()
		p.stats.StageDurations[name] = elapsed
		p.stats.StageOrder = append(p.stats.StageOrder, name)
		p.mu.Unlock()
		stageLogger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", elapsed),
		)
		pc.report(base+share, name+" completed")
	}
	return p.finish(runCtx, logger, "", nil)
}

// finish cleans up, finalizes statistics, and records the outcome.
func (p *RenderPipeline) finish(ctx context.Context, logger *slog.Logger, stage string, runErr error) (string, error) {
	pc := p.pc
	if err := pc.CleanupTempDir(); err != nil {
		logging.WarnWithContext(logger, "temp cleanup failed", "temp_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job temp files remain on disk"),
			logging.String(logging.FieldErrorHint, "remove stale job-* directories under paths.temp_dir"),
		)
	}

	var size int64
	if runErr == nil {
		if s, err := fileutil.FileSize(pc.OutputPath); err == nil {
			size = s
		} else {
			logger.Debug("output size unavailable", logging.Error(err))
		}
	}

	p.mu.Lock()
	now := time.Now()
	p.stats.FinishedAt = now
	p.stats.TotalDuration = now.Sub(p.stats.StartedAt)
	switch {
	case runErr == nil:
		p.stats.Status = history.StatusCompleted
		p.stats.OutputSize = size
	case errors.Is(runErr, services.ErrCancelled):
		p.stats.Status = history.StatusCancelled
	default:
		p.stats.Status = history.StatusFailed
	}
	if runErr != nil {
		p.stats.FailedStage = stage
		p.stats.ErrorKind = services.Kind(runErr)
		p.stats.ErrorMessage = runErr.Error()
	}
	stats := p.stats.clone()
	p.mu.Unlock()

	attrs := []logging.Attr{
		logging.Duration("total_duration", stats.TotalDuration),
		logging.Int("stages_run", len(stats.StageOrder)),
		logging.Int("stages_skipped", len(stats.SkippedStages)),
	}
	switch stats.Status {
	case history.StatusCompleted:
		attrs = append(attrs,
			logging.String(logging.FieldEventType, "pipeline_complete"),
			logging.String("output", pc.OutputPath),
			logging.Int64("output_size", stats.OutputSize),
		)
		logger.Info("pipeline completed", logging.Args(attrs...)...)
	case history.StatusCancelled:
		attrs = append(attrs,
			logging.String(logging.FieldEventType, "pipeline_cancelled"),
			logging.String(logging.FieldStage, stage),
		)
		logger.Info("pipeline cancelled", logging.Args(attrs...)...)
	default:
		attrs = append(attrs,
			logging.String(logging.FieldEventType, "pipeline_failed"),
			logging.String(logging.FieldStage, stage),
			logging.String(logging.FieldErrorKind, stats.ErrorKind),
			logging.Error(runErr),
		)
		logger.Error("pipeline failed", logging.Args(attrs...)...)
	}

	p.recordFinish(context.WithoutCancel(ctx), logger, stats)

	if runErr != nil {
		return "", runErr
	}
	pc.enterStage("", 100, 0, nil)
	pc.report(100, "completed")
	return pc.OutputPath, nil
}

func (p *RenderPipeline) recordStart(ctx context.Context, logger *slog.Logger) {
	if p.opts.History == nil {
		return
	}
	name := ""
	if p.pc.Project != nil {
		name = p.pc.Project.Metadata.Name
	}
	if err := p.opts.History.Start(ctx, p.pc.JobID, name, p.pc.OutputPath); err != nil {
		logging.WarnWithContext(logger, "history start not recorded", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job will be missing from renderpipe history"),
			logging.String(logging.FieldErrorHint, "check paths.history_db permissions"),
		)
	}
}

func (p *RenderPipeline) recordFinish(ctx context.Context, logger *slog.Logger, stats Statistics) {
	if p.opts.History == nil {
		return
	}
	if err := p.opts.History.Finish(ctx, stats.JobID, stats.Outcome()); err != nil {
		logging.WarnWithContext(logger, "history outcome not recorded", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job status in renderpipe history is stale"),
			logging.String(logging.FieldErrorHint, "check paths.history_db permissions"),
		)
	}
}

// lockOutput takes an exclusive lock on <output>.lock so two jobs never write
// the same file. The lock file is removed before the lock is released. A
// missing output directory is left for validation to report.
func lockOutput(outputPath string) (func(), error) {
	noop := func() {}
	if strings.TrimSpace(outputPath) == "" {
		return noop, nil
	}
	if info, err := os.Stat(filepath.Dir(outputPath)); err != nil || !info.IsDir() {
		return noop, nil
	}
	lockPath := outputPath + ".lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return noop, services.IO("pipeline", "lock output", err)
	}
	if !ok {
		return noop, services.Wrap(services.ErrResource, "pipeline", "lock output",
			fmt.Sprintf("%s is being rendered by another job", outputPath), nil)
	}
	return func() {
		_ = os.Remove(lockPath)
		_ = lock.Unlock()
	}, nil
}
