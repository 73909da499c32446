package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"

	"renderpipe/internal/config"
	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/logging"
	"renderpipe/internal/rendercache"
	"renderpipe/internal/services"
	"renderpipe/internal/testsupport"
	"renderpipe/internal/worker"
)

type fakeRunner struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	calls   atomic.Int32
	fail    error
}

func (r *fakeRunner) Run(_ context.Context, cmd ffmpeg.Command, onProgress func(ffmpeg.Progress)) error {
	r.calls.Add(1)
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if r.fail != nil {
		return r.fail
	}
	if onProgress != nil {
		onProgress(ffmpeg.Progress{OutTime: 10 * time.Second, Done: true})
	}
	return os.WriteFile(cmd.OutputPath, []byte("rendered"), 0o644)
}

type fakeBroker struct {
	mu         sync.Mutex
	statuses   []worker.Status
	deliveries chan amqp.Delivery
	consumed   int
}

func (b *fakeBroker) Consume(context.Context) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumed++
	if b.consumed > 1 {
		return nil, errors.New("connection closed")
	}
	return b.deliveries, nil
}

func (b *fakeBroker) PublishStatus(_ context.Context, status worker.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, status)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) Statuses(jobID string) []worker.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []worker.Status
	for _, s := range b.statuses {
		if s.JobID == jobID {
			out = append(out, s)
		}
	}
	return out
}

// ackRecorder implements amqp.Acknowledger.
type ackRecorder struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
	requeue bool
	settled chan struct{}
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{settled: make(chan struct{}, 16)}
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	a.settled <- struct{}{}
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	a.nacks++
	a.requeue = requeue
	a.mu.Unlock()
	a.settled <- struct{}{}
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.mu.Lock()
	a.rejects++
	a.requeue = requeue
	a.mu.Unlock()
	a.settled <- struct{}{}
	return nil
}

func (a *ackRecorder) counts() (int, int, int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks, a.rejects, a.requeue
}

type harness struct {
	cfg     *config.Config
	broker  *fakeBroker
	runner  *fakeRunner
	project string
	worker  *worker.Worker
}

func newHarness(t *testing.T, maxJobs int) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Pipeline.MaxConcurrentJobs = maxJobs
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	p := testsupport.SampleProject(t, testsupport.BaseDir(cfg))
	projectPath := filepath.Join(testsupport.BaseDir(cfg), "project.json")
	if err := p.Save(projectPath); err != nil {
		t.Fatalf("save project: %v", err)
	}
	cache, err := rendercache.NewFromConfig(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("rendercache: %v", err)
	}
	h := &harness{
		cfg:     cfg,
		broker:  &fakeBroker{deliveries: make(chan amqp.Delivery, 4)},
		runner:  &fakeRunner{},
		project: projectPath,
	}
	h.worker = worker.New(h.broker, worker.Options{
		Config: cfg,
		Logger: logging.NewNop(),
		Cache:  cache,
		Runner: h.runner,
		Probe: func(_ context.Context, path string) (rendercache.MediaMetadata, error) {
			return rendercache.MediaMetadata{Path: path, Duration: 60, HasVideo: true}, nil
		},
		ReconnectDelay: 10 * time.Millisecond,
	})
	return h
}

func delivery(t *testing.T, ack amqp.Acknowledger, job worker.Job, redelivered bool) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body, Redelivered: redelivered}
}

func TestDecodeJob(t *testing.T) {
	job, err := worker.DecodeJob([]byte(`{"job_id":" j1 ","project_path":"/p.json"}`))
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if job.JobID != "j1" || job.ProjectPath != "/p.json" {
		t.Fatalf("unexpected job: %+v", job)
	}
	for _, body := range []string{`not json`, `{"job_id":"j2"}`} {
		if _, err := worker.DecodeJob([]byte(body)); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("DecodeJob(%q) = %v, want validation error", body, err)
		}
	}
}

func TestJobLogName(t *testing.T) {
	tests := map[string]string{
		"job-1":        "job-1.log",
		"a/b c":        "a_b_c.log",
		"..":           "job.log",
		"  ":           "job.log",
		"render.final": "render.final.log",
	}
	for in, want := range tests {
		if got := worker.JobLogName(in); got != want {
			t.Errorf("JobLogName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProcessPublishesLifecycle(t *testing.T) {
	h := newHarness(t, 1)

	status, err := h.worker.Process(context.Background(), worker.Job{JobID: "job-1", ProjectPath: h.project})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	wantOutput := filepath.Join(h.cfg.Paths.OutputDir, "job-1.mp4")
	if status.Status != worker.StatusCompleted || status.OutputPath != wantOutput {
		t.Fatalf("unexpected final status: %+v", status)
	}
	if len(status.StageDurations) != 5 {
		t.Fatalf("expected 5 stage durations, got %v", status.StageDurations)
	}

	statuses := h.broker.Statuses("job-1")
	if len(statuses) < 3 {
		t.Fatalf("expected queued, running, and final statuses, got %d", len(statuses))
	}
	if statuses[0].Status != worker.StatusQueued {
		t.Fatalf("first status = %q, want queued", statuses[0].Status)
	}
	if last := statuses[len(statuses)-1]; last.Status != worker.StatusCompleted || last.Progress != 100 {
		t.Fatalf("last status = %+v", last)
	}
	var sawRunning bool
	for _, s := range statuses[1 : len(statuses)-1] {
		if s.Status != worker.StatusRunning {
			t.Fatalf("unexpected intermediate status %q", s.Status)
		}
		sawRunning = true
	}
	if !sawRunning {
		t.Fatal("expected at least one running status")
	}

	data, err := os.ReadFile(filepath.Join(h.cfg.Paths.LogDir, "jobs", "job-1.log"))
	if err != nil {
		t.Fatalf("read job log: %v", err)
	}
	if !strings.Contains(string(data), "job_received") {
		t.Fatalf("job log missing job_received event:\n%s", data)
	}
	if ids := h.worker.ActiveJobs(); len(ids) != 0 {
		t.Fatalf("expected no active jobs, got %v", ids)
	}
}

func TestProcessMissingProject(t *testing.T) {
	h := newHarness(t, 1)

	status, err := h.worker.Process(context.Background(), worker.Job{JobID: "job-x", ProjectPath: filepath.Join(t.TempDir(), "missing.json")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if status.Status != worker.StatusFailed || status.Stage != "load" || status.ErrorKind != "validation" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if h.runner.calls.Load() != 0 {
		t.Fatal("expected no transcoder calls")
	}
}

func TestHandleAckPolicy(t *testing.T) {
	t.Run("malformed body is rejected", func(t *testing.T) {
		h := newHarness(t, 1)
		ack := newAckRecorder()
		h.worker.Handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{")})
		acks, nacks, rejects, requeue := ack.counts()
		if rejects != 1 || acks != 0 || nacks != 0 || requeue {
			t.Fatalf("acks=%d nacks=%d rejects=%d requeue=%v", acks, nacks, rejects, requeue)
		}
	})

	t.Run("success is acked", func(t *testing.T) {
		h := newHarness(t, 1)
		ack := newAckRecorder()
		h.worker.Handle(context.Background(), delivery(t, ack, worker.Job{JobID: "ok", ProjectPath: h.project}, false))
		if acks, _, _, _ := ack.counts(); acks != 1 {
			t.Fatalf("expected ack, got %d", acks)
		}
	})

	t.Run("permanent failure is acked", func(t *testing.T) {
		h := newHarness(t, 1)
		h.runner.fail = &services.FFmpegError{ExitCode: 1, Stderr: "Invalid argument"}
		ack := newAckRecorder()
		h.worker.Handle(context.Background(), delivery(t, ack, worker.Job{JobID: "bad", ProjectPath: h.project}, false))
		if acks, nacks, _, _ := ack.counts(); acks != 1 || nacks != 0 {
			t.Fatalf("acks=%d nacks=%d", acks, nacks)
		}
		statuses := h.broker.Statuses("bad")
		if last := statuses[len(statuses)-1]; last.Status != worker.StatusFailed || last.ErrorKind != "ffmpeg" {
			t.Fatalf("unexpected final status: %+v", last)
		}
	})

	t.Run("transient failure is requeued once", func(t *testing.T) {
		h := newHarness(t, 1)
		h.runner.fail = services.Wrap(services.ErrTimeout, "encoding", "run ffmpeg", "deadline", nil)
		ack := newAckRecorder()
		h.worker.Handle(context.Background(), delivery(t, ack, worker.Job{JobID: "slow", ProjectPath: h.project}, false))
		if _, nacks, _, requeue := ack.counts(); nacks != 1 || !requeue {
			t.Fatalf("expected requeue, nacks=%d requeue=%v", nacks, requeue)
		}

		again := newAckRecorder()
		h.worker.Handle(context.Background(), delivery(t, again, worker.Job{JobID: "slow", ProjectPath: h.project}, true))
		if acks, nacks, _, _ := again.counts(); acks != 1 || nacks != 0 {
			t.Fatalf("redelivered job should be acked, acks=%d nacks=%d", acks, nacks)
		}
	})
}

func TestRunBoundsConcurrencyAndStops(t *testing.T) {
	h := newHarness(t, 1)
	ack := newAckRecorder()
	h.broker.deliveries <- delivery(t, ack, worker.Job{JobID: "r1", ProjectPath: h.project}, false)
	h.broker.deliveries <- delivery(t, ack, worker.Job{JobID: "r2", ProjectPath: h.project}, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-ack.settled:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for deliveries to settle")
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if acks, _, _, _ := ack.counts(); acks != 2 {
		t.Fatalf("expected 2 acks, got %d", acks)
	}
	if max := h.runner.maxSeen.Load(); max > 1 {
		t.Fatalf("expected at most 1 concurrent render, saw %d", max)
	}
	for _, id := range []string{"r1", "r2"} {
		if _, err := os.Stat(filepath.Join(h.cfg.Paths.OutputDir, id+".mp4")); err != nil {
			t.Fatalf("expected output for %s: %v", id, err)
		}
	}
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t, 1)
	if h.worker.Cancel("nope") {
		t.Fatal("expected Cancel to report false for unknown job")
	}
}
