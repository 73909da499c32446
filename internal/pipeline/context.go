package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/cast"

	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/logging"
	"renderpipe/internal/project"
	"renderpipe/internal/rendercache"
)

// User data keys written by the default stages.
const (
	KeyGeneratedSources = "generated_sources"
	KeySettingsHash     = "settings_hash"
	KeyCachedRender     = "cached_render"
	KeyRenderedPath     = "rendered_path"
	KeyFilterGraph      = "filter_graph"
	KeyVideoEncoder     = "video_encoder"
	KeyHardwareEncoder  = "hardware_encoder"
	KeyProbedSources    = "probed_sources"
	KeyOutputSize       = "output_size"
	KeyPublishedURL     = "published_url"
)

// Context is the per-job state threaded through every stage. It is owned by
// one RenderPipeline for the duration of Execute.
type Context struct {
	Project    *project.Schema
	OutputPath string
	JobID      string
	Builder    *ffmpeg.Builder
	Tracker    ProgressTracker
	Cache      *rendercache.Cache
	Logger     *slog.Logger

	// RenderCommand is the transcoder invocation prepared by composition.
	RenderCommand *ffmpeg.Command

	tempRoot  string
	tempDir   string
	tempMu    sync.Mutex
	cancelled atomic.Bool

	dataMu   sync.RWMutex
	userData map[string]any

	progressBase  float64
	progressShare float64
	stageName     string
}

// NewContext creates a job context. Temp directories are created under
// tempRoot, or the system temp dir when empty.
func NewContext(p *project.Schema, outputPath, tempRoot string) *Context {
	return &Context{
		Project:    p,
		OutputPath: outputPath,
		Logger:     logging.NewNop(),
		tempRoot:   tempRoot,
		userData:   make(map[string]any),
	}
}

// IsCancelled reports whether Cancel was called on the owning pipeline.
func (c *Context) IsCancelled() bool {
	return c.cancelled.Load()
}

func (c *Context) markCancelled() {
	c.cancelled.Store(true)
}

// TempDir returns the job temp directory, creating it on first use.
func (c *Context) TempDir() (string, error) {
	c.tempMu.Lock()
	defer c.tempMu.Unlock()
	if c.tempDir != "" {
		return c.tempDir, nil
	}
	root := c.tempRoot
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create temp root: %w", err)
	}
	prefix := "job-"
	if id := sanitizeID(c.JobID); id != "" {
		prefix = "job-" + id + "-"
	}
	dir, err := os.MkdirTemp(root, prefix)
	if err != nil {
		return "", fmt.Errorf("create job temp dir: %w", err)
	}
	c.tempDir = dir
	return dir, nil
}

// TempPath joins name onto the job temp directory.
func (c *Context) TempPath(name string) (string, error) {
	dir, err := c.TempDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// HasTempDir reports whether the temp directory currently exists.
func (c *Context) HasTempDir() bool {
	c.tempMu.Lock()
	defer c.tempMu.Unlock()
	return c.tempDir != ""
}

// CleanupTempDir removes the job temp directory. It is safe to call repeatedly.
func (c *Context) CleanupTempDir() error {
	c.tempMu.Lock()
	defer c.tempMu.Unlock()
	if c.tempDir == "" {
		return nil
	}
	dir := c.tempDir
	c.tempDir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove job temp dir: %w", err)
	}
	return nil
}

// Set stores a value for later stages.
func (c *Context) Set(key string, value any) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	c.userData[key] = value
}

// Get returns the raw value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	value, ok := c.userData[key]
	return value, ok
}

// Delete removes key.
func (c *Context) Delete(key string) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	delete(c.userData, key)
}

// GetString returns key coerced to a string, or "" when absent.
func (c *Context) GetString(key string) string {
	value, ok := c.Get(key)
	if !ok {
		return ""
	}
	return cast.ToString(value)
}

// GetFloat64 returns key coerced to a float64, or 0 when absent.
func (c *Context) GetFloat64(key string) float64 {
	value, ok := c.Get(key)
	if !ok {
		return 0
	}
	return cast.ToFloat64(value)
}

// GetInt64 returns key coerced to an int64, or 0 when absent.
func (c *Context) GetInt64(key string) int64 {
	value, ok := c.Get(key)
	if !ok {
		return 0
	}
	return cast.ToInt64(value)
}

// GetBool returns key coerced to a bool, or false when absent.
func (c *Context) GetBool(key string) bool {
	value, ok := c.Get(key)
	if !ok {
		return false
	}
	return cast.ToBool(value)
}

// GetStringMap returns key coerced to map[string]string.
func (c *Context) GetStringMap(key string) map[string]string {
	value, ok := c.Get(key)
	if !ok {
		return nil
	}
	return cast.ToStringMapString(value)
}

// UserData returns a copy of all stored values.
func (c *Context) UserData() map[string]any {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	out := make(map[string]any, len(c.userData))
	for k, v := range c.userData {
		out[k] = v
	}
	return out
}

// ReportProgress publishes progress within the current stage. fraction runs
// from 0 to 1 and is scaled into the stage's share of the overall job.
func (c *Context) ReportProgress(fraction float64, message string) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	c.report(c.progressBase+c.progressShare*fraction, message)
}

func (c *Context) report(percent float64, message string) {
	if c.Tracker == nil {
		return
	}
	c.Tracker.Report(ProgressEvent{
		JobID:   c.JobID,
		Stage:   c.stageName,
		Percent: percent,
		Message: message,
	})
}

// resetRun clears per-run state. The cancellation flag is kept so a Cancel
// issued before Execute still stops the run.
func (c *Context) resetRun(jobID string) {
	c.JobID = jobID
	c.RenderCommand = nil
	c.dataMu.Lock()
	c.userData = make(map[string]any)
	c.dataMu.Unlock()
	if c.Builder != nil {
		c.Builder.SetGeneratedSources(nil)
	}
	c.enterStage("", 0, 0, nil)
}

func (c *Context) enterStage(name string, base, share float64, logger *slog.Logger) {
	c.stageName = name
	c.progressBase = base
	c.progressShare = share
	if logger != nil {
		c.Logger = logger
	}
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
