package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/logging"
	"renderpipe/internal/project"
	"renderpipe/internal/rendercache"
	"renderpipe/internal/services"
)

// SettingsHash keys a full render in the render cache: the project layout,
// export settings, and source file state plus the output container.
func SettingsHash(p *project.Schema, outputPath string) string {
	return hashParts("render", contentKey(p), strings.ToLower(filepath.Ext(outputPath)))
}

// SegmentKey keys a partial render of [start, end).
func SegmentKey(p *project.Schema, start, end float64, outputPath string) string {
	return hashParts("segment", contentKey(p), fmt.Sprintf("%.3f-%.3f", start, end), strings.ToLower(filepath.Ext(outputPath)))
}

// contentKey identifies what a render of p contains: the project fingerprint
// plus the size and modification time of every file source, so a source
// replaced in place yields a new key.
func contentKey(p *project.Schema) string {
	parts := []string{p.Fingerprint()}
	for _, path := range p.FileSources() {
		info, err := os.Stat(path)
		if err != nil {
			parts = append(parts, path+"|missing")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano()))
	}
	return hashParts(parts...)
}

func hashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// lookupRender returns a cached render whose file is still on disk with the
// recorded size. Stale records are dropped.
func lookupRender(cache *rendercache.Cache, key string) (rendercache.RenderData, bool) {
	if cache == nil || key == "" {
		return rendercache.RenderData{}, false
	}
	data, ok := cache.GetRenderData(key)
	if !ok {
		return rendercache.RenderData{}, false
	}
	info, err := os.Stat(data.OutputPath)
	if err != nil || info.IsDir() || (data.FileSize > 0 && info.Size() != data.FileSize) {
		cache.RemoveRenderData(key)
		return rendercache.RenderData{}, false
	}
	return data, true
}

// rememberRender records outputPath under key, replacing any record that
// pointed at the same file.
func rememberRender(cache *rendercache.Cache, key, outputPath string, size int64) {
	if cache == nil || key == "" {
		return
	}
	cache.InvalidatePath(outputPath)
	cache.StoreRenderData(key, rendercache.RenderData{
		OutputPath:   outputPath,
		SettingsHash: key,
		FileSize:     size,
	})
}

// ensureGeneratedSources renders generated clips once per run and attaches
// them to the builder. It is a no-op when they are already attached.
func ensureGeneratedSources(ctx context.Context, pc *Context, runner ffmpeg.Runner) error {
	if countGenerated(pc.Project) == 0 {
		return nil
	}
	if _, ok := pc.Get(KeyGeneratedSources); ok {
		return nil
	}
	if pc.Builder == nil {
		return services.Validation(StagePreprocessing, "ffmpeg builder not attached")
	}
	dir, err := pc.TempDir()
	if err != nil {
		return services.IO(StagePreprocessing, "create temp dir", err)
	}
	generated, err := generateSources(ctx, pc.Project, pc.Builder, runner, dir, pc.Logger)
	if err != nil {
		return err
	}
	pc.Set(KeyGeneratedSources, generated)
	pc.Builder.SetGeneratedSources(generated)
	pc.Logger.Info("generated clips rendered",
		logging.String(logging.FieldEventType, "generated_clips"),
		logging.Int("count", len(generated)),
	)
	return nil
}

// generateSources renders every generated clip on an enabled track into dir
// and returns clip id -> file path.
func generateSources(ctx context.Context, p *project.Schema, builder *ffmpeg.Builder, runner ffmpeg.Runner, dir string, logger *slog.Logger) (map[string]string, error) {
	generated := make(map[string]string)
	for _, track := range p.EnabledTracks() {
		for _, clip := range track.Clips {
			if !clip.Source.IsGenerated() {
				continue
			}
			out := filepath.Join(dir, "generated-"+sanitizeID(clip.ID)+".mp4")
			cmd, err := builder.BuildGeneratorCommand(clip, out)
			if err != nil {
				return nil, err
			}
			if err := runner.Run(ctx, cmd, nil); err != nil {
				return nil, err
			}
			if logger != nil {
				logger.Debug("generated clip rendered",
					logging.String("clip_id", clip.ID),
					logging.String("generator", clip.Source.Generator.Type),
					logging.String("path", out),
				)
			}
			generated[clip.ID] = out
		}
	}
	return generated, nil
}

func countGenerated(p *project.Schema) int {
	count := 0
	for _, track := range p.EnabledTracks() {
		for _, clip := range track.Clips {
			if clip.Source.IsGenerated() {
				count++
			}
		}
	}
	return count
}
