package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"renderpipe/internal/deps"
	"renderpipe/internal/logging"
	"renderpipe/internal/rendercache"
	"renderpipe/internal/services"
)

// sourceWindowTolerance absorbs container duration rounding.
const sourceWindowTolerance = 0.05

// ValidationStage checks the project, output location, dependencies, free
// disk space, and optionally each source's probed duration.
type ValidationStage struct {
	requirements []deps.Requirement
	minFree      uint64
	freeSpace    FreeSpaceFunc
	probeSources bool
	probe        ProbeFunc
}

// NewValidationStage builds the validation stage from opts.
func NewValidationStage(opts Options) *ValidationStage {
	opts = opts.withDefaults()
	return &ValidationStage{
		requirements: opts.Requirements,
		minFree:      opts.MinFreeBytes,
		freeSpace:    opts.FreeSpace,
		probeSources: opts.ProbeSources,
		probe:        opts.Probe,
	}
}

func (s *ValidationStage) Name() string { return StageValidation }

func (s *ValidationStage) EstimatedDuration(pc *Context) time.Duration {
	if !s.probeSources || pc == nil || pc.Project == nil {
		return time.Second
	}
	return time.Second + time.Duration(len(pc.Project.FileSources()))*200*time.Millisecond
}

func (s *ValidationStage) CanSkip(*Context) bool { return false }

func (s *ValidationStage) Process(ctx context.Context, pc *Context) error {
	if pc.Project == nil {
		return services.Validation(StageValidation, "project is required")
	}
	if err := pc.Project.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, StageValidation, "project", "project is invalid", err)
	}
	outputDir, err := checkOutputPath(pc.OutputPath)
	if err != nil {
		return err
	}
	if err := deps.FirstMissing(deps.CheckBinaries(s.requirements)); err != nil {
		return err
	}
	if err := s.checkDisk(outputDir); err != nil {
		return err
	}
	pc.ReportProgress(0.3, "output location ok")

	sources := pc.Project.FileSources()
	for _, path := range sources {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return services.Validation(StageValidation, fmt.Sprintf("source %s does not exist", path))
			}
			return services.IO(StageValidation, "stat source", err)
		}
	}
	if !s.probeSources {
		return nil
	}
	for i, path := range sources {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, StageValidation, "probe sources", "", err)
		}
		meta, err := s.metadata(ctx, pc, path)
		if err != nil {
			return err
		}
		if err := checkSourceWindows(pc, path, meta.Duration); err != nil {
			return err
		}
		pc.ReportProgress(0.3+0.7*float64(i+1)/float64(len(sources)), "probed "+filepath.Base(path))
	}
	pc.Set(KeyProbedSources, len(sources))
	return nil
}

func (s *ValidationStage) HealthCheck(context.Context) Health {
	if err := deps.FirstMissing(deps.CheckBinaries(s.requirements)); err != nil {
		return Unhealthy(StageValidation, err.Error())
	}
	return Healthy(StageValidation)
}

func (s *ValidationStage) checkDisk(dir string) error {
	if s.minFree == 0 || s.freeSpace == nil {
		return nil
	}
	free, err := s.freeSpace(dir)
	if err != nil {
		return services.IO(StageValidation, "check free space", err)
	}
	if free < s.minFree {
		return services.Resource(StageValidation, fmt.Sprintf("%s free on %s, need %s",
			humanize.IBytes(free), dir, humanize.IBytes(s.minFree)))
	}
	return nil
}

func (s *ValidationStage) metadata(ctx context.Context, pc *Context, path string) (rendercache.MediaMetadata, error) {
	if cached, ok := pc.Cache.GetMetadata(path); ok {
		return cached, nil
	}
	probed, err := s.probe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return rendercache.MediaMetadata{}, services.Wrap(services.ErrCancelled, StageValidation, "probe source", path, err)
		}
		return rendercache.MediaMetadata{}, services.Wrap(services.ErrExternalTool, StageValidation, "probe source", path, err)
	}
	pc.Cache.StoreMetadata(path, probed)
	pc.Logger.Debug("source probed",
		logging.String("path", path),
		logging.Float64("duration_seconds", probed.Duration),
		logging.String("video_codec", probed.VideoCodec),
	)
	return probed, nil
}

func checkOutputPath(outputPath string) (string, error) {
	if strings.TrimSpace(outputPath) == "" {
		return "", services.Validation(StageValidation, "output path is required")
	}
	dir := filepath.Dir(outputPath)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Validation(StageValidation, fmt.Sprintf("output directory %s does not exist", dir))
		}
		return "", services.IO(StageValidation, "stat output directory", err)
	}
	if !info.IsDir() {
		return "", services.Validation(StageValidation, fmt.Sprintf("output directory %s is not a directory", dir))
	}
	return dir, nil
}

// checkSourceWindows rejects clips whose trim window runs past the probed end
// of their source.
func checkSourceWindows(pc *Context, path string, duration float64) error {
	if duration <= 0 {
		return nil
	}
	for _, track := range pc.Project.EnabledTracks() {
		for _, clip := range track.Clips {
			if !clip.Source.IsFile() || clip.Source.Path != path {
				continue
			}
			end := clip.SourceStart + clip.SourceDuration
			if end-duration > sourceWindowTolerance {
				return services.Validation(StageValidation, fmt.Sprintf(
					"clip %s reads %.3fs-%.3fs but %s is only %.3fs long",
					clip.ID, clip.SourceStart, end, filepath.Base(path), math.Round(duration*1000)/1000))
			}
		}
	}
	return nil
}
