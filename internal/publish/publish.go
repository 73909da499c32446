package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"renderpipe/internal/config"
	"renderpipe/internal/logging"
	"renderpipe/internal/services"
)

// Backend stores one local file under bucket/key and returns its URL.
type Backend interface {
	Name() string
	Put(ctx context.Context, bucket, key, localPath, contentType string) (string, error)
}

// Publisher uploads renders through a Backend.
type Publisher struct {
	backend Backend
	bucket  string
	prefix  string
	logger  *slog.Logger
}

// New builds a publisher for the configured backend. It returns nil, nil when
// publishing is disabled.
func New(cfg config.Publish, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "minio":
		backend, err = NewMinioBackend(cfg)
	case "s3":
		backend, err = NewS3Backend(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "publish", "", fmt.Sprintf("unsupported backend %q", cfg.Backend), nil)
	}
	if err != nil {
		return nil, err
	}
	return NewWithBackend(backend, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithBackend wraps an existing backend.
func NewWithBackend(backend Backend, bucket, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		backend: backend,
		bucket:  bucket,
		prefix:  prefix,
		logger:  logging.NewComponentLogger(logger, "publish"),
	}
}

// Publish uploads localPath for jobID and returns the object URL.
func (p *Publisher) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	if p == nil || p.backend == nil {
		return "", errors.New("publish: no backend configured")
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", services.IO("publish", "stat render", err)
	}
	contentType, err := DetectContentType(localPath)
	if err != nil {
		return "", services.IO("publish", "sniff content type", err)
	}
	key := ObjectKey(p.prefix, jobID, localPath)
	logger := logging.WithContext(ctx, p.logger)
	logger.Debug("upload started",
		logging.String(logging.FieldEventType, "upload_start"),
		logging.String("backend", p.backend.Name()),
		logging.String("bucket", p.bucket),
		logging.String("key", key),
		logging.String("size", humanize.IBytes(uint64(info.Size()))),
	)
	started := time.Now()
	url, err := p.backend.Put(ctx, p.bucket, key, localPath, contentType)
	if err != nil {
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrCancelled, "publish", "upload", key, err)
		}
		return "", services.Wrap(services.ErrIO, "publish", "upload", fmt.Sprintf("%s to %s/%s", p.backend.Name(), p.bucket, key), err)
	}
	logger.Debug("upload finished",
		logging.String("url", url),
		logging.Duration("elapsed", time.Since(started)),
	)
	return url, nil
}

// ObjectKey builds <prefix>/<jobID>/<basename>, skipping empty parts.
func ObjectKey(prefix, jobID, localPath string) string {
	parts := make([]string, 0, 3)
	if trimmed := strings.Trim(prefix, "/ "); trimmed != "" {
		parts = append(parts, trimmed)
	}
	if jobID = strings.TrimSpace(jobID); jobID != "" {
		parts = append(parts, jobID)
	}
	parts = append(parts, filepath.Base(localPath))
	return path.Join(parts...)
}

// DetectContentType sniffs the first 512 bytes of path. Known media
// extensions take precedence because sniffing does not recognise most
// containers.
func DetectContentType(localPath string) (string, error) {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".mp4", ".m4v":
		return "video/mp4", nil
	case ".mov":
		return "video/quicktime", nil
	case ".mkv":
		return "video/x-matroska", nil
	case ".webm":
		return "video/webm", nil
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil && n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(buffer[:n]), nil
}
