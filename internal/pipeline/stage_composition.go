package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/logging"
	"renderpipe/internal/services"
)

// CompositionStage builds the filter graph and the full render command.
type CompositionStage struct{}

// NewCompositionStage builds the composition stage.
func NewCompositionStage(Options) *CompositionStage {
	return &CompositionStage{}
}

func (s *CompositionStage) Name() string { return StageComposition }

func (s *CompositionStage) EstimatedDuration(*Context) time.Duration { return 100 * time.Millisecond }

// CanSkip reports true when preprocessing found a cached render.
func (s *CompositionStage) CanSkip(pc *Context) bool {
	return pc.GetString(KeyCachedRender) != ""
}

func (s *CompositionStage) Process(_ context.Context, pc *Context) error {
	if pc.Builder == nil {
		return services.Validation(StageComposition, "ffmpeg builder not attached")
	}
	if len(pc.Builder.Inputs().CollectInputSources()) == 0 {
		return services.Validation(StageComposition, "no renderable inputs on enabled tracks")
	}
	renderPath, err := pc.TempPath(renderFileName(pc.OutputPath))
	if err != nil {
		return services.IO(StageComposition, "create temp dir", err)
	}
	cmd, err := pc.Builder.BuildRenderCommand(renderPath, true)
	if err != nil {
		return err
	}
	storeCommand(pc, cmd)
	pc.Logger.Debug("render command composed",
		logging.String("command", cmd.String()),
		logging.Bool("has_video", pc.Builder.Filters().HasVideoTracks()),
		logging.Bool("has_audio", pc.Builder.Filters().HasAudioTracks()),
	)
	return nil
}

func storeCommand(pc *Context, cmd ffmpeg.Command) {
	pc.RenderCommand = &cmd
	pc.Set(KeyRenderedPath, cmd.OutputPath)
	if graph, ok := cmd.Value("-filter_complex"); ok {
		pc.Set(KeyFilterGraph, graph)
	}
	if encoder, ok := cmd.Value("-c:v"); ok {
		pc.Set(KeyVideoEncoder, encoder)
		pc.Set(KeyHardwareEncoder, ffmpeg.IsHardwareEncoder(encoder))
	}
}

func renderFileName(outputPath string) string {
	ext := strings.ToLower(filepath.Ext(outputPath))
	if ext == "" {
		ext = ".mp4"
	}
	return "render" + ext
}
