package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"renderpipe/internal/config"
	"renderpipe/internal/deps"
	"renderpipe/internal/history"
	"renderpipe/internal/logging"
	"renderpipe/internal/preflight"
	"renderpipe/internal/publish"
	"renderpipe/internal/rendercache"
)

// DialFunc connects to the job queue.
type DialFunc func(cfg config.Worker, logger *slog.Logger) (Broker, error)

// DialBroker is the production DialFunc backed by RabbitMQ.
func DialBroker(cfg config.Worker, logger *slog.Logger) (Broker, error) {
	broker, err := DialRabbitMQ(cfg, logger)
	if err != nil {
		return nil, err
	}
	return broker, nil
}

// AcquireInstanceLock takes <log_dir>/renderpiped.lock so only one worker
// process consumes per host and config.
func AcquireInstanceLock(cfg *config.Config) (*flock.Flock, error) {
	lockPath := filepath.Join(cfg.Paths.LogDir, "renderpiped.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another render worker is already running")
	}
	return lock, nil
}

// Serve checks dependencies, opens the shared cache, history, and publisher,
// and runs a Worker until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, dial DialFunc) error {
	if strings.TrimSpace(cfg.Worker.AMQPURL) == "" {
		return errors.New("worker.amqp_url is required")
	}
	lock, err := AcquireInstanceLock(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if err := deps.FirstMissing(deps.CheckBinaries(deps.RequirementsFor(cfg))); err != nil {
		return err
	}
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "renders touching this resource may fail"),
			logging.String(logging.FieldErrorHint, "run `renderpipe deps` for details"),
		)
	}

	opts, cleanup, err := BuildOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	broker, err := dial(cfg.Worker, logger)
	if err != nil {
		return fmt.Errorf("connect job queue: %w", err)
	}
	defer broker.Close()

	logger.Info("render worker started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("listen_queue", cfg.Worker.ListenQueue),
		logging.String("status_queue", cfg.Worker.StatusQueue),
	)
	err = New(broker, opts).Run(ctx)
	logger.Info("render worker shutting down", logging.String(logging.FieldEventType, "daemon_stop"))
	return err
}

// BuildOptions opens the shared cache, history store, and publisher. History
// is optional; a store that fails to open is logged and skipped. Jobs left
// running by a previous process are marked interrupted.
func BuildOptions(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Options, func(), error) {
	cache, err := rendercache.NewFromConfig(cfg, logger)
	if err != nil {
		return Options{}, nil, fmt.Errorf("render cache: %w", err)
	}
	opts := Options{Config: cfg, Logger: logger, Cache: cache}
	cleanup := func() {}

	store, err := history.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "job history unavailable", "history_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "renders are not recorded"),
			logging.String(logging.FieldErrorHint, "check paths.history_db"),
		)
	} else {
		if n, err := store.MarkInterrupted(ctx); err != nil {
			logger.Warn("mark interrupted jobs failed", logging.Error(err))
		} else if n > 0 {
			logger.Info("jobs from a previous run marked interrupted", logging.Int64("count", n))
		}
		if days := cfg.Logging.RetentionDays; days > 0 {
			if n, err := store.Prune(ctx, time.Now().AddDate(0, 0, -days)); err == nil && n > 0 {
				logger.Info("old history rows pruned", logging.Int64("count", n))
			}
		}
		opts.History = store
		cleanup = func() { _ = store.Close() }
	}

	publisher, err := publish.New(cfg.Publish, logger)
	if err != nil {
		cleanup()
		return Options{}, nil, err
	}
	if publisher != nil {
		opts.Publisher = publisher
	}
	return opts, cleanup, nil
}
