package worker

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"renderpipe/internal/config"
	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/logging"
	"renderpipe/internal/pipeline"
	"renderpipe/internal/project"
	"renderpipe/internal/rendercache"
	"renderpipe/internal/services"
)

const defaultReconnectDelay = 5 * time.Second

// Options configures a Worker.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Cache     *rendercache.Cache
	History   pipeline.Recorder
	Publisher pipeline.Publisher

	// Runner and Probe replace the ffmpeg/ffprobe subprocesses when set.
	Runner ffmpeg.Runner
	Probe  pipeline.ProbeFunc

	ReconnectDelay time.Duration
}

type reconnector interface {
	Reconnect() error
}

// Worker consumes jobs from a Broker and renders them.
type Worker struct {
	cfg            *config.Config
	broker         Broker
	logger         *slog.Logger
	base           pipeline.Options
	slots          chan struct{}
	reconnectDelay time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*pipeline.RenderPipeline
}

// New builds a worker. opts.Config is required.
func New(broker Broker, opts Options) *Worker {
	cfg := opts.Config
	logger := logging.NewComponentLogger(opts.Logger, "worker")

	base := pipeline.OptionsFromConfig(cfg, opts.Logger, opts.Cache)
	if opts.Runner != nil {
		base.Runner = opts.Runner
	}
	if opts.Probe != nil {
		base.Probe = opts.Probe
	}
	base.History = opts.History
	base.Publisher = opts.Publisher

	limit := cfg.Pipeline.MaxConcurrentJobs
	if limit <= 0 {
		limit = 1
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Worker{
		cfg:            cfg,
		broker:         broker,
		logger:         logger,
		base:           base,
		slots:          make(chan struct{}, limit),
		reconnectDelay: delay,
		active:         make(map[string]*pipeline.RenderPipeline),
	}
}

// Run consumes until ctx is cancelled, reconnecting when the delivery
// channel closes. In-flight jobs are cancelled and awaited before it returns.
func (w *Worker) Run(ctx context.Context) error {
	defer w.wg.Wait()
	w.pruneJobLogs()
	w.logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_start"),
		logging.Int("max_concurrent_jobs", cap(w.slots)),
	)
	for {
		deliveries, err := w.broker.Consume(ctx)
		if err == nil {
			w.drain(ctx, deliveries)
		}
		if ctx.Err() != nil {
			w.logger.Info("worker stopping", logging.String(logging.FieldEventType, "worker_stop"))
			return nil
		}
		attrs := []logging.Attr{
			logging.Duration("retry_in", w.reconnectDelay),
			logging.String(logging.FieldImpact, "no new render jobs are accepted until the queue is reachable"),
			logging.String(logging.FieldErrorHint, "check worker.amqp_url and broker health"),
		}
		if err != nil {
			attrs = append(attrs, logging.Error(err))
		}
		logging.WarnWithContext(w.logger, "job queue unavailable; reconnecting", "amqp_reconnect", attrs...)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.reconnectDelay):
		}
		if r, ok := w.broker.(reconnector); ok {
			if err := r.Reconnect(); err != nil {
				w.logger.Debug("reconnect failed", logging.Error(err))
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case w.slots <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-w.slots }()
				w.Handle(ctx, d)
			}()
		}
	}
}

// Handle processes one delivery and settles it. Malformed messages are
// rejected without requeue. Retryable failures are requeued once, and jobs
// interrupted by shutdown are always requeued.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	job, err := DecodeJob(d.Body)
	if err != nil {
		logging.WarnWithContext(w.logger, "job message rejected", "job_rejected",
			logging.Error(err),
			logging.Int("body_bytes", len(d.Body)),
			logging.String(logging.FieldImpact, "message is dropped from the queue"),
			logging.String(logging.FieldErrorHint, "send {\"job_id\", \"project_path\", \"output_path\"} JSON"),
		)
		_ = d.Reject(false)
		return
	}
	if job.JobID == "" {
		job.JobID = d.MessageId
	}
	status, err := w.Process(ctx, job)
	switch {
	case status.Status == StatusCancelled && ctx.Err() != nil:
		_ = d.Nack(false, true)
	case err != nil && services.Retryable(err) && !d.Redelivered:
		_ = d.Nack(false, true)
	default:
		_ = d.Ack(false)
	}
}

// Process renders one job and publishes its statuses. The returned error is
// the pipeline's error, if any.
func (w *Worker) Process(ctx context.Context, job Job) (Status, error) {
	if strings.TrimSpace(job.JobID) == "" {
		job.JobID = uuid.NewString()
	}
	ctx = services.WithJobID(ctx, job.JobID)
	logger, closeLog := w.jobLogger(job.JobID)
	defer closeLog()
	logger = logging.WithContext(ctx, logger)

	logger.Info("render job received",
		logging.String(logging.FieldEventType, "job_received"),
		logging.String("project_path", job.ProjectPath),
		logging.String("output_path", job.OutputPath),
	)
	w.publish(ctx, Status{JobID: job.JobID, Status: StatusQueued, Timestamp: time.Now().UTC()})

	p, err := project.Load(job.ProjectPath)
	if err != nil {
		err = services.Wrap(services.ErrValidation, "worker", "load project", job.ProjectPath, err)
		status := Status{
			JobID:     job.JobID,
			Stage:     "load",
			Status:    StatusFailed,
			ErrorKind: services.Kind(err),
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		}
		logging.ErrorWithContext(logger, "project load failed", "job_failed",
			logging.String(logging.FieldErrorKind, status.ErrorKind),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check project_path exists and is readable JSON"),
		)
		w.publish(ctx, status)
		return status, err
	}

	output := resolveOutput(job, w.cfg.Paths.OutputDir, p.Settings.Export.Format)
	opts := w.base
	opts.Logger = logger
	tracker := &statusTracker{worker: w, ctx: ctx, sampler: logging.NewProgressSampler(10)}
	pl := pipeline.New(p, tracker, opts, output)

	w.mu.Lock()
	w.active[job.JobID] = pl
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.active, job.JobID)
		w.mu.Unlock()
	}()

	_, runErr := pl.Execute(ctx, job.JobID)
	status := finalStatus(job, pl.Statistics(), pl.Context(), runErr)
	w.publish(ctx, status)
	logger.Info("render job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.String("status", status.Status),
		logging.String("output", status.OutputPath),
	)
	return status, runErr
}

// Cancel cancels a running job and reports whether it was found.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	pl, ok := w.active[jobID]
	w.mu.Unlock()
	if ok {
		pl.Cancel()
	}
	return ok
}

// ActiveJobs lists running job ids in sorted order.
func (w *Worker) ActiveJobs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.active))
	for id := range w.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (w *Worker) publish(ctx context.Context, status Status) {
	if err := w.broker.PublishStatus(context.WithoutCancel(ctx), status); err != nil {
		logging.WarnWithContext(w.logger, "status not published", "status_publish_failed",
			logging.String(logging.FieldJobID, status.JobID),
			logging.String("status", status.Status),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job watchers miss this update"),
			logging.String(logging.FieldErrorHint, "check worker.status_queue and broker health"),
		)
	}
}

func (w *Worker) jobLogDir() string {
	if w.cfg == nil || strings.TrimSpace(w.cfg.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(w.cfg.Paths.LogDir, "jobs")
}

// jobLogger tees the worker logger into <log_dir>/jobs/<job_id>.log.
func (w *Worker) jobLogger(jobID string) (*slog.Logger, func()) {
	base := w.base.Logger
	dir := w.jobLogDir()
	if dir == "" {
		return base, func() {}
	}
	path := filepath.Join(dir, JobLogName(jobID))
	handler, closer, err := logging.NewFileHandler(path, w.cfg.Logging.Level)
	if err != nil {
		logging.WarnWithContext(w.logger, "job log unavailable", "job_log_failed",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job output only appears in the main log"),
			logging.String(logging.FieldErrorHint, "check paths.log_dir permissions"),
		)
		return base, func() {}
	}
	return logging.TeeLogger(base, handler), func() { closeQuietly(closer) }
}

func (w *Worker) pruneJobLogs() {
	dir := w.jobLogDir()
	if dir == "" {
		return
	}
	if removed := logging.CleanupOldLogs(w.logger, w.cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: dir, Pattern: "*.log"},
	); removed > 0 {
		w.logger.Info("old job logs pruned", logging.Int("removed", removed))
	}
}

// JobLogName maps a job id to a safe file name.
func JobLogName(jobID string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(jobID) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		name = "job"
	}
	return name + ".log"
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// statusTracker republishes sampled pipeline progress as running statuses.
type statusTracker struct {
	worker  *Worker
	ctx     context.Context
	mu      sync.Mutex
	sampler *logging.ProgressSampler
}

func (t *statusTracker) Report(event pipeline.ProgressEvent) {
	t.mu.Lock()
	emit := t.sampler.ShouldLog(event.Percent, event.Stage)
	t.mu.Unlock()
	if !emit {
		return
	}
	t.worker.publish(t.ctx, Status{
		JobID:     event.JobID,
		Stage:     event.Stage,
		Status:    StatusRunning,
		Progress:  event.Percent,
		Timestamp: event.Time.UTC(),
	})
}
