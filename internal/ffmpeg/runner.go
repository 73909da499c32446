package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"renderpipe/internal/logging"
	"renderpipe/internal/services"
)

var commandContext = exec.CommandContext

const stderrTailLines = 40

// Progress is one block of ffmpeg -progress output.
type Progress struct {
	OutTime time.Duration
	Frame   int64
	Speed   float64
	Done    bool
}

// Runner executes a transcoder command. onProgress may be nil.
type Runner interface {
	Run(ctx context.Context, cmd Command, onProgress func(Progress)) error
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct {
	Logger  *slog.Logger
	Timeout time.Duration
}

// Run starts cmd with machine-readable progress on stdout and waits for it to
// exit. A non-zero exit becomes *services.FFmpegError; a missing binary becomes
// *services.DependencyError.
func (r ExecRunner) Run(ctx context.Context, cmd Command, onProgress func(Progress)) error {
	logger := logging.WithContext(ctx, r.Logger)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append([]string{"-progress", "pipe:1", "-nostats"}, cmd.Args...)
	proc := commandContext(ctx, cmd.Binary, args...) //nolint:gosec
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	logger.Debug("ffmpeg starting",
		logging.String(logging.FieldEventType, "ffmpeg_start"),
		logging.String("command", cmd.String()),
	)
	started := time.Now()
	if err := proc.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return &services.DependencyError{Binary: cmd.Binary, Detail: err.Error()}
		}
		return services.Wrap(services.ErrExternalTool, "", "start ffmpeg", "", err)
	}

	tail := newLineTail(stderrTailLines)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ParseProgress(stdout, onProgress)
	}()
	go func() {
		defer wg.Done()
		tail.consume(stderr)
	}()
	wg.Wait()

	waitErr := proc.Wait()
	logger.Debug("ffmpeg exited",
		logging.String(logging.FieldEventType, "ffmpeg_exit"),
		logging.Duration("elapsed", time.Since(started)),
		logging.Bool("success", waitErr == nil),
	)
	if waitErr == nil {
		return nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return services.Timeout("", "ffmpeg", ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		return services.Wrap(services.ErrCancelled, "", "ffmpeg", "interrupted", ctx.Err())
	}
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &services.FFmpegError{ExitCode: exitCode, Stderr: tail.String(), Command: cmd.String()}
}

// ParseProgress reads ffmpeg -progress key=value blocks from r and reports
// each completed block. It returns when r is exhausted.
func ParseProgress(r io.Reader, onProgress func(Progress)) {
	scanner := bufio.NewScanner(r)
	var current Progress
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// ffmpeg reports microseconds under both keys.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				current.OutTime = time.Duration(us) * time.Microsecond
			}
		case "frame":
			if frame, err := strconv.ParseInt(value, 10, 64); err == nil {
				current.Frame = frame
			}
		case "speed":
			if speed, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
				current.Speed = speed
			}
		case "progress":
			current.Done = value == "end"
			if onProgress != nil {
				onProgress(current)
			}
		}
	}
}

// Percent converts progress into a 0-100 completion figure for a render of
// the given length.
func (p Progress) Percent(total time.Duration) float64 {
	if p.Done {
		return 100
	}
	if total <= 0 {
		return 0
	}
	pct := float64(p.OutTime) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newLineTail(max int) *lineTail {
	return &lineTail{max: max}
}

func (t *lineTail) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		t.mu.Lock()
		t.lines = append(t.lines, line)
		if len(t.lines) > t.max {
			t.lines = t.lines[len(t.lines)-t.max:]
		}
		t.mu.Unlock()
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

var _ Runner = ExecRunner{}
