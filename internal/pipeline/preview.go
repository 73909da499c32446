package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/fileutil"
	"renderpipe/internal/logging"
	"renderpipe/internal/project"
	"renderpipe/internal/rendercache"
	"renderpipe/internal/services"
)

// PreviewRequest selects one frame of the timeline.
type PreviewRequest struct {
	Timestamp  float64
	Resolution project.Resolution
	// Quality runs 1 (worst) to 100 (best).
	Quality int
}

// SegmentRequest selects the timeline window [Start, End).
type SegmentRequest struct {
	Start      float64
	End        float64
	OutputPath string
}

// PreviewKey identifies a preview in the render cache. Previews are keyed by
// project fingerprint and source file state so edits invalidate them.
func PreviewKey(p *project.Schema, req PreviewRequest) rendercache.PreviewKey {
	return rendercache.PreviewKey{
		Path:        "project:" + contentKey(p),
		TimestampMS: int64(math.Round(req.Timestamp * 1000)),
		Width:       req.Resolution.Width,
		Height:      req.Resolution.Height,
		Quality:     req.Quality,
	}
}

// RenderPreview returns JPEG bytes for one frame, serving from the render
// cache when possible.
func RenderPreview(ctx context.Context, p *project.Schema, req PreviewRequest, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	if p == nil {
		return nil, services.Validation("preview", "project is required")
	}
	if req.Timestamp < 0 || req.Timestamp > p.Duration() {
		return nil, services.Validation("preview", fmt.Sprintf("timestamp %.3f outside timeline [0, %.3f]", req.Timestamp, p.Duration()))
	}
	if req.Quality <= 0 {
		req.Quality = 75
	}
	if req.Resolution.Width <= 0 || req.Resolution.Height <= 0 {
		req.Resolution = p.Settings.Resolution
	}
	key := PreviewKey(p, req)
	if data, ok := opts.Cache.GetPreview(key); ok {
		return append([]byte(nil), data...), nil
	}

	dir, cleanup, err := scratchDir(opts.TempRoot, "preview-")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	builder := ffmpeg.NewBuilder(p, opts.FFmpeg)
	if err := attachGenerated(ctx, p, builder, opts, dir); err != nil {
		return nil, err
	}
	out := filepath.Join(dir, "frame.jpg")
	cmd, err := builder.BuildPreviewCommand(req.Timestamp, req.Resolution, req.Quality, out)
	if err != nil {
		return nil, err
	}
	if err := opts.Runner.Run(ctx, cmd, nil); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, services.IO("preview", "read frame", err)
	}
	opts.Cache.StorePreview(key, data)
	logging.NewComponentLogger(opts.Logger, "preview").Debug("preview rendered",
		logging.String("key", key.String()),
		logging.Int("bytes", len(data)),
	)
	return data, nil
}

// RenderSegment renders [Start, End) of the timeline to req.OutputPath. A
// still-valid cached render of the same window is copied instead.
func RenderSegment(ctx context.Context, p *project.Schema, req SegmentRequest, opts Options) (string, error) {
	opts = opts.withDefaults()
	if p == nil {
		return "", services.Validation("segment", "project is required")
	}
	if _, err := checkOutputPath(req.OutputPath); err != nil {
		return "", err
	}
	logger := logging.NewComponentLogger(opts.Logger, "segment")
	key := SegmentKey(p, req.Start, req.End, req.OutputPath)
	if cached, ok := lookupRender(opts.Cache, key); ok {
		if err := placeCached(cached.OutputPath, req.OutputPath); err != nil {
			return "", err
		}
		logger.Info("segment served from cache",
			logging.String(logging.FieldEventType, "render_cache_hit"),
			logging.String("cached_path", cached.OutputPath),
		)
		return req.OutputPath, nil
	}

	dir, cleanup, err := scratchDir(opts.TempRoot, "segment-")
	if err != nil {
		return "", err
	}
	defer cleanup()

	builder := ffmpeg.NewBuilder(p, opts.FFmpeg)
	if err := attachGenerated(ctx, p, builder, opts, dir); err != nil {
		return "", err
	}
	tmp := filepath.Join(dir, renderFileName(req.OutputPath))
	cmd, err := builder.BuildSegmentCommand(req.Start, req.End, tmp, true)
	if err != nil {
		return "", err
	}
	if err := opts.Runner.Run(ctx, cmd, nil); err != nil {
		return "", err
	}
	if err := fileutil.MoveFile(tmp, req.OutputPath); err != nil {
		return "", services.IO("segment", "move segment into place", err)
	}
	size, err := fileutil.FileSize(req.OutputPath)
	if err != nil {
		return "", services.IO("segment", "stat segment", err)
	}
	rememberRender(opts.Cache, key, req.OutputPath, size)
	logger.Info("segment rendered",
		logging.String(logging.FieldEventType, "segment_rendered"),
		logging.Float64("start", req.Start),
		logging.Float64("end", req.End),
		logging.String("output", req.OutputPath),
	)
	return req.OutputPath, nil
}

func attachGenerated(ctx context.Context, p *project.Schema, builder *ffmpeg.Builder, opts Options, dir string) error {
	if countGenerated(p) == 0 {
		return nil
	}
	generated, err := generateSources(ctx, p, builder, opts.Runner, dir, opts.Logger)
	if err != nil {
		return err
	}
	builder.SetGeneratedSources(generated)
	return nil
}

func scratchDir(root, prefix string) (string, func(), error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", nil, services.IO("", "create temp root", err)
	}
	dir, err := os.MkdirTemp(root, prefix)
	if err != nil {
		return "", nil, services.IO("", "create scratch dir", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
