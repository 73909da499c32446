package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"renderpipe/internal/config"
	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/logging"
	"renderpipe/internal/pipeline"
	"renderpipe/internal/project"
	"renderpipe/internal/rendercache"
	"renderpipe/internal/testsupport"
)

// fakeRunner records commands and writes a small file to each output path.
type fakeRunner struct {
	mu       sync.Mutex
	commands []ffmpeg.Command
	fail     func(ffmpeg.Command) error
}

func (r *fakeRunner) Run(_ context.Context, cmd ffmpeg.Command, onProgress func(ffmpeg.Progress)) error {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		if err := fail(cmd); err != nil {
			return err
		}
	}
	if onProgress != nil {
		onProgress(ffmpeg.Progress{OutTime: 5 * time.Second})
		onProgress(ffmpeg.Progress{OutTime: 10 * time.Second, Done: true})
	}
	return os.WriteFile(cmd.OutputPath, []byte("rendered:"+filepath.Base(cmd.OutputPath)), 0o644)
}

func (r *fakeRunner) Commands() []ffmpeg.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ffmpeg.Command(nil), r.commands...)
}

type fixture struct {
	cfg     *config.Config
	project *project.Schema
	output  string
	runner  *fakeRunner
	cache   *rendercache.Cache
	probes  *atomic.Int32
	opts    pipeline.Options
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithStubbedBinaries()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	cache, err := rendercache.NewFromConfig(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("rendercache: %v", err)
	}
	f := &fixture{
		cfg:     cfg,
		project: testsupport.SampleProject(t, testsupport.BaseDir(cfg)),
		output:  filepath.Join(cfg.Paths.OutputDir, "sample.mp4"),
		runner:  &fakeRunner{},
		cache:   cache,
		probes:  &atomic.Int32{},
	}
	f.opts = pipeline.OptionsFromConfig(cfg, logging.NewNop(), cache)
	f.opts.Runner = f.runner
	f.opts.Probe = func(_ context.Context, path string) (rendercache.MediaMetadata, error) {
		f.probes.Add(1)
		return rendercache.MediaMetadata{Path: path, Duration: 60, HasVideo: true}, nil
	}
	return f
}

func (f *fixture) pipeline(tracker pipeline.ProgressTracker) *pipeline.RenderPipeline {
	return pipeline.New(f.project, tracker, f.opts, f.output)
}

// replaceStages swaps the default stages for the given ones.
func replaceStages(t *testing.T, p *pipeline.RenderPipeline, stages ...pipeline.Stage) {
	t.Helper()
	for _, name := range p.StageNames() {
		if ok, err := p.RemoveStage(name); err != nil || !ok {
			t.Fatalf("RemoveStage(%s) = %v, %v", name, ok, err)
		}
	}
	for _, stage := range stages {
		if err := p.AddStage(stage); err != nil {
			t.Fatalf("AddStage(%s): %v", stage.Name(), err)
		}
	}
}

// recordingStages returns stubs named after the default stages that append
// their name to visited when processed.
func recordingStages(visited *[]string) []pipeline.Stage {
	names := []string{
		pipeline.StageValidation,
		pipeline.StagePreprocessing,
		pipeline.StageComposition,
		pipeline.StageEncoding,
		pipeline.StageFinalization,
	}
	stages := make([]pipeline.Stage, len(names))
	for i, name := range names {
		stages[i] = pipeline.StageFunc{
			StageName: name,
			Run: func(_ context.Context, pc *pipeline.Context) error {
				*visited = append(*visited, name)
				_, err := pc.TempDir()
				return err
			},
		}
	}
	return stages
}

func assertNoJobDirs(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		t.Fatalf("read temp root: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "job-") {
			t.Fatalf("expected job temp dir to be removed, found %s", entry.Name())
		}
	}
}
