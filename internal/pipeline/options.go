package pipeline

import (
	"context"
	"log/slog"

	"renderpipe/internal/config"
	"renderpipe/internal/deps"
	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/history"
	"renderpipe/internal/logging"
	"renderpipe/internal/media/ffprobe"
	"renderpipe/internal/preflight"
	"renderpipe/internal/rendercache"
)

// ProbeFunc inspects a source file.
type ProbeFunc func(ctx context.Context, path string) (rendercache.MediaMetadata, error)

// FreeSpaceFunc reports bytes available under path.
type FreeSpaceFunc func(path string) (uint64, error)

// Recorder persists job outcomes. *history.Store satisfies it.
type Recorder interface {
	Start(ctx context.Context, jobID, projectName, outputPath string) error
	Finish(ctx context.Context, jobID string, outcome history.Outcome) error
}

// Publisher uploads a finished render and returns where it can be fetched.
type Publisher interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
}

// Options carries the collaborators and limits a pipeline runs with.
type Options struct {
	Logger *slog.Logger
	Cache  *rendercache.Cache
	Runner ffmpeg.Runner
	FFmpeg ffmpeg.Options

	TempRoot         string
	HardwareFallback bool

	ProbeSources bool
	Probe        ProbeFunc
	MinFreeBytes uint64
	FreeSpace    FreeSpaceFunc
	Requirements []deps.Requirement

	StageLevels logging.StageLevels
	History     Recorder
	Publisher   Publisher
}

// OptionsFromConfig derives pipeline options from application config. cache
// may be shared between pipelines.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger, cache *rendercache.Cache) Options {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts := Options{
		Logger:       logger,
		Cache:        cache,
		FFmpeg:       ffmpeg.OptionsFromConfig(cfg),
		FreeSpace:    preflight.FreeBytes,
		Requirements: deps.RequirementsFor(cfg),
	}
	if cfg == nil {
		opts.Runner = ffmpeg.ExecRunner{Logger: logger}
		opts.Probe = FFprobeProbe("ffprobe")
		return opts
	}
	opts.Runner = ffmpeg.ExecRunner{Logger: logger, Timeout: cfg.FFmpegTimeout()}
	opts.Probe = FFprobeProbe(cfg.FFprobeBinary())
	opts.TempRoot = cfg.Paths.TempDir
	opts.HardwareFallback = cfg.FFmpeg.HardwareFallback
	opts.ProbeSources = cfg.Pipeline.ProbeSources
	if cfg.Pipeline.MinFreeDiskMB > 0 {
		opts.MinFreeBytes = uint64(cfg.Pipeline.MinFreeDiskMB) * 1024 * 1024
	}
	if len(cfg.Logging.StageOverrides) > 0 {
		opts.StageLevels = logging.StageLevels(cfg.Logging.StageOverrides)
	}
	return opts
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	if o.Runner == nil {
		o.Runner = ffmpeg.ExecRunner{Logger: o.Logger}
	}
	if o.FreeSpace == nil {
		o.FreeSpace = preflight.FreeBytes
	}
	if o.Probe == nil {
		o.Probe = FFprobeProbe("ffprobe")
	}
	return o
}

// FFprobeProbe returns a ProbeFunc backed by the ffprobe binary.
func FFprobeProbe(binary string) ProbeFunc {
	return func(ctx context.Context, path string) (rendercache.MediaMetadata, error) {
		result, err := ffprobe.Inspect(ctx, binary, path)
		if err != nil {
			return rendercache.MediaMetadata{}, err
		}
		return MetadataFromProbe(path, result), nil
	}
}

// MetadataFromProbe converts ffprobe output into a cacheable record.
func MetadataFromProbe(path string, result ffprobe.Result) rendercache.MediaMetadata {
	meta := rendercache.MediaMetadata{
		Path:      path,
		Duration:  result.DurationSeconds(),
		SizeBytes: result.SizeBytes(),
		HasVideo:  result.VideoStreamCount() > 0,
		HasAudio:  result.AudioStreamCount() > 0,
	}
	if video, ok := result.FirstStream("video"); ok {
		meta.Width = video.Width
		meta.Height = video.Height
		meta.FrameRate = video.FrameRate()
		meta.VideoCodec = video.CodecName
	}
	if audio, ok := result.FirstStream("audio"); ok {
		meta.AudioCodec = audio.CodecName
	}
	return meta
}
