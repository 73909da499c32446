package pipeline

import (
	"context"
	"time"

	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/logging"
)

// PreprocessingStage computes the render cache key and renders generated
// clips into the job temp directory. When a valid cached render exists the
// generators are not run.
type PreprocessingStage struct {
	runner ffmpeg.Runner
}

// NewPreprocessingStage builds the preprocessing stage from opts.
func NewPreprocessingStage(opts Options) *PreprocessingStage {
	return &PreprocessingStage{runner: opts.withDefaults().Runner}
}

func (s *PreprocessingStage) Name() string { return StagePreprocessing }

func (s *PreprocessingStage) EstimatedDuration(pc *Context) time.Duration {
	if pc == nil || pc.Project == nil {
		return 0
	}
	return time.Duration(countGenerated(pc.Project)) * 2 * time.Second
}

func (s *PreprocessingStage) CanSkip(*Context) bool { return false }

func (s *PreprocessingStage) Process(ctx context.Context, pc *Context) error {
	hash := SettingsHash(pc.Project, pc.OutputPath)
	pc.Set(KeySettingsHash, hash)

	if cached, ok := lookupRender(pc.Cache, hash); ok {
		pc.Set(KeyCachedRender, cached.OutputPath)
		pc.Logger.Info("cached render available",
			logging.String(logging.FieldEventType, "render_cache_hit"),
			logging.String("settings_hash", hash),
			logging.String("cached_path", cached.OutputPath),
		)
		return nil
	}
	return ensureGeneratedSources(ctx, pc, s.runner)
}
