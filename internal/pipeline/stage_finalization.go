package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"renderpipe/internal/fileutil"
	"renderpipe/internal/logging"
	"renderpipe/internal/services"
)

// FinalizationStage moves the render into place, records it in the render
// cache, optionally publishes it, and removes job temporaries.
type FinalizationStage struct {
	publisher Publisher
}

// NewFinalizationStage builds the finalization stage from opts.
func NewFinalizationStage(opts Options) *FinalizationStage {
	return &FinalizationStage{publisher: opts.Publisher}
}

func (s *FinalizationStage) Name() string { return StageFinalization }

func (s *FinalizationStage) EstimatedDuration(*Context) time.Duration {
	if s.publisher != nil {
		return 10 * time.Second
	}
	return time.Second
}

func (s *FinalizationStage) CanSkip(*Context) bool { return false }

func (s *FinalizationStage) Process(ctx context.Context, pc *Context) error {
	if cached := pc.GetString(KeyCachedRender); cached != "" {
		if err := placeCached(cached, pc.OutputPath); err != nil {
			return err
		}
	} else {
		rendered := pc.GetString(KeyRenderedPath)
		if rendered == "" {
			return services.Validation(StageFinalization, "no rendered file to finalize")
		}
		if err := fileutil.MoveFile(rendered, pc.OutputPath); err != nil {
			return services.IO(StageFinalization, "move render into place", err)
		}
	}

	size, err := fileutil.FileSize(pc.OutputPath)
	if err != nil {
		return services.IO(StageFinalization, "stat output", err)
	}
	pc.Set(KeyOutputSize, size)
	rememberRender(pc.Cache, pc.GetString(KeySettingsHash), pc.OutputPath, size)
	pc.Logger.Info("render finalized",
		logging.String(logging.FieldEventType, "output_ready"),
		logging.String("output", pc.OutputPath),
		logging.String("size", humanize.Bytes(uint64(size))),
	)
	pc.ReportProgress(0.5, "output ready")

	if s.publisher != nil {
		url, err := s.publisher.Publish(ctx, pc.JobID, pc.OutputPath)
		if err != nil {
			return err
		}
		pc.Set(KeyPublishedURL, url)
		pc.Logger.Info("render published",
			logging.String(logging.FieldEventType, "upload_complete"),
			logging.String("url", url),
		)
	}

	if err := pc.CleanupTempDir(); err != nil {
		logging.WarnWithContext(pc.Logger, "temp cleanup failed", "temp_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job temp files remain on disk"),
			logging.String(logging.FieldErrorHint, "remove stale job-* directories under paths.temp_dir"),
		)
	}
	return nil
}

func placeCached(cached, output string) error {
	if filepath.Clean(cached) == filepath.Clean(output) {
		return nil
	}
	if err := fileutil.CopyFileVerified(cached, output); err != nil {
		return services.IO(StageFinalization, "copy cached render", err)
	}
	return nil
}
