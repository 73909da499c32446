package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"renderpipe/internal/logging"
)

// ProgressEvent is one coarse progress update for a job.
type ProgressEvent struct {
	JobID   string
	Stage   string
	Percent float64
	Message string
	Time    time.Time
}

// ProgressTracker receives progress updates. Implementations must not block.
type ProgressTracker interface {
	Report(ProgressEvent)
}

// ProgressFunc adapts a function to ProgressTracker.
type ProgressFunc func(ProgressEvent)

// Report calls f.
func (f ProgressFunc) Report(event ProgressEvent) {
	if f != nil {
		f(event)
	}
}

// ChannelTracker delivers events on a buffered channel, dropping events when
// the consumer falls behind.
type ChannelTracker struct {
	mu     sync.Mutex
	ch     chan ProgressEvent
	closed bool
}

// NewChannelTracker creates a tracker with the given buffer size.
func NewChannelTracker(buffer int) *ChannelTracker {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelTracker{ch: make(chan ProgressEvent, buffer)}
}

// Events returns the receive side of the tracker.
func (t *ChannelTracker) Events() <-chan ProgressEvent {
	return t.ch
}

// Report implements ProgressTracker.
func (t *ChannelTracker) Report(event ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	select {
	case t.ch <- event:
	default:
	}
}

// Close closes the event channel. Later reports are ignored.
func (t *ChannelTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.ch)
}

// LogTracker writes sampled progress to a logger.
type LogTracker struct {
	logger  *slog.Logger
	mu      sync.Mutex
	sampler *logging.ProgressSampler
}

// NewLogTracker logs progress at info whenever the stage changes or the
// percent crosses a 5% bucket.
func NewLogTracker(logger *slog.Logger) *LogTracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogTracker{logger: logger, sampler: logging.NewProgressSampler(5)}
}

// Report implements ProgressTracker.
func (t *LogTracker) Report(event ProgressEvent) {
	t.mu.Lock()
	emit := t.sampler.ShouldLog(event.Percent, event.Stage)
	t.mu.Unlock()
	if !emit {
		return
	}
	t.logger.Info("render progress",
		logging.String(logging.FieldEventType, "render_progress"),
		logging.String(logging.FieldJobID, event.JobID),
		logging.String(logging.FieldStage, event.Stage),
		logging.Float64("percent", roundPercent(event.Percent)),
		logging.String("message", event.Message),
	)
}

// MultiTracker fans events out to several trackers.
type MultiTracker []ProgressTracker

// Report implements ProgressTracker.
func (m MultiTracker) Report(event ProgressEvent) {
	for _, tracker := range m {
		if tracker != nil {
			tracker.Report(event)
		}
	}
}

func roundPercent(p float64) float64 {
	return float64(int(p*10+0.5)) / 10
}
