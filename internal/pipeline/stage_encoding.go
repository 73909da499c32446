package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/logging"
	"renderpipe/internal/services"
)

// EncodingStage runs the transcoder. A failed hardware encode is retried once
// with the software encoder when fallback is enabled.
type EncodingStage struct {
	runner   ffmpeg.Runner
	fallback bool
}

// NewEncodingStage builds the encoding stage from opts.
func NewEncodingStage(opts Options) *EncodingStage {
	opts = opts.withDefaults()
	return &EncodingStage{runner: opts.Runner, fallback: opts.HardwareFallback}
}

func (s *EncodingStage) Name() string { return StageEncoding }

// EstimatedDuration assumes roughly realtime encoding.
func (s *EncodingStage) EstimatedDuration(pc *Context) time.Duration {
	if pc == nil || pc.Project == nil {
		return 0
	}
	return time.Duration(pc.Project.Duration() * float64(time.Second))
}

// CanSkip reports true when a cached render for the same settings hash is
// still valid and its file exists.
func (s *EncodingStage) CanSkip(pc *Context) bool {
	hash := pc.GetString(KeySettingsHash)
	if hash == "" {
		return false
	}
	data, ok := lookupRender(pc.Cache, hash)
	if !ok {
		pc.Delete(KeyCachedRender)
		return false
	}
	pc.Set(KeyCachedRender, data.OutputPath)
	return true
}

func (s *EncodingStage) Process(ctx context.Context, pc *Context) error {
	// Composition was skipped for a cached render that has since vanished.
	if pc.RenderCommand == nil {
		if err := ensureGeneratedSources(ctx, pc, s.runner); err != nil {
			return err
		}
	}
	cmd, err := s.command(pc)
	if err != nil {
		return err
	}
	total := time.Duration(pc.Project.Duration() * float64(time.Second))
	err = s.run(ctx, pc, cmd, total)
	if err == nil {
		return s.verifyOutput(cmd.OutputPath)
	}

	encoder, _ := cmd.Value("-c:v")
	if !s.fallback || !ffmpeg.IsHardwareEncoder(encoder) || ctx.Err() != nil || !isTranscoderFailure(err) {
		return err
	}
	software, buildErr := pc.Builder.BuildRenderCommand(cmd.OutputPath, false)
	if buildErr != nil {
		return errors.Join(err, buildErr)
	}
	next, _ := software.Value("-c:v")
	logging.WarnWithContext(pc.Logger, "hardware encode failed; retrying with software encoder", "hwaccel_fallback",
		logging.String("hardware_encoder", encoder),
		logging.String("software_encoder", next),
		logging.Error(err),
		logging.String(logging.FieldImpact, "render continues on the CPU and will be slower"),
		logging.String(logging.FieldErrorHint, "check GPU drivers or set ffmpeg.hardware_acceleration = false"),
	)
	storeCommand(pc, software)
	if err := s.run(ctx, pc, software, total); err != nil {
		return err
	}
	return s.verifyOutput(software.OutputPath)
}

func (s *EncodingStage) command(pc *Context) (ffmpeg.Command, error) {
	if pc.RenderCommand != nil {
		return *pc.RenderCommand, nil
	}
	if pc.Builder == nil {
		return ffmpeg.Command{}, services.Validation(StageEncoding, "ffmpeg builder not attached")
	}
	renderPath, err := pc.TempPath(renderFileName(pc.OutputPath))
	if err != nil {
		return ffmpeg.Command{}, services.IO(StageEncoding, "create temp dir", err)
	}
	cmd, err := pc.Builder.BuildRenderCommand(renderPath, true)
	if err != nil {
		return ffmpeg.Command{}, err
	}
	storeCommand(pc, cmd)
	return cmd, nil
}

func (s *EncodingStage) run(ctx context.Context, pc *Context, cmd ffmpeg.Command, total time.Duration) error {
	encoder, _ := cmd.Value("-c:v")
	pc.Logger.Info("transcoder started",
		logging.String(logging.FieldEventType, "ffmpeg_start"),
		logging.String("encoder", encoder),
		logging.String("output", cmd.OutputPath),
	)
	started := time.Now()
	err := s.runner.Run(ctx, cmd, func(p ffmpeg.Progress) {
		pc.ReportProgress(p.Percent(total)/100, fmt.Sprintf("encoding %s", p.OutTime.Truncate(time.Second)))
	})
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "ffmpeg_exit"),
		logging.String("encoder", encoder),
		logging.Duration("elapsed", time.Since(started)),
	}
	if err != nil {
		attrs = append(attrs, logging.String(logging.FieldErrorKind, services.Kind(err)), logging.Error(err))
		pc.Logger.Error("transcoder failed", logging.Args(attrs...)...)
		return err
	}
	pc.Logger.Info("transcoder finished", logging.Args(attrs...)...)
	return nil
}

func (s *EncodingStage) verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, StageEncoding, "verify output", "transcoder produced no output", err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrExternalTool, StageEncoding, "verify output", "transcoder produced an empty file", nil)
	}
	return nil
}

func isTranscoderFailure(err error) bool {
	var ffErr *services.FFmpegError
	return errors.As(err, &ffErr)
}
