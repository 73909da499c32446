package publish_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"renderpipe/internal/config"
	"renderpipe/internal/publish"
	"renderpipe/internal/services"
	"renderpipe/internal/testsupport"
)

type fakeBackend struct {
	bucket, key, path, contentType string
	err                            error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Put(_ context.Context, bucket, key, localPath, contentType string) (string, error) {
	b.bucket, b.key, b.path, b.contentType = bucket, key, localPath, contentType
	if b.err != nil {
		return "", b.err
	}
	return "fake://" + bucket + "/" + key, nil
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, jobID, path, want string
	}{
		{"renders", "job-1", "/out/final.mp4", "renders/job-1/final.mp4"},
		{"/renders/", "job-1", "/out/final.mp4", "renders/job-1/final.mp4"},
		{"", "job-1", "/out/final.mp4", "job-1/final.mp4"},
		{"", "", "/out/final.mp4", "final.mp4"},
	}
	for _, tt := range tests {
		if got := publish.ObjectKey(tt.prefix, tt.jobID, tt.path); got != tt.want {
			t.Fatalf("ObjectKey(%q, %q, %q) = %q, want %q", tt.prefix, tt.jobID, tt.path, got, tt.want)
		}
	}
}

func TestPublishUsesBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "final.mp4")
	testsupport.WriteFile(t, path, 2048)

	backend := &fakeBackend{}
	p := publish.NewWithBackend(backend, "renders", "daily", nil)
	got, err := p.Publish(context.Background(), "job-7", path)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got != "fake://renders/daily/job-7/final.mp4" {
		t.Fatalf("unexpected url %q", got)
	}
	if backend.contentType != "video/mp4" || backend.path != path {
		t.Fatalf("unexpected backend call: %+v", backend)
	}
}

func TestPublishClassifiesFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "final.mp4")
	testsupport.WriteFile(t, path, 16)

	p := publish.NewWithBackend(&fakeBackend{err: errors.New("connection reset")}, "renders", "", nil)
	_, err := p.Publish(context.Background(), "job", path)
	if !errors.Is(err, services.ErrIO) || !services.Retryable(err) {
		t.Fatalf("expected retryable io error, got %v", err)
	}

	if _, err := p.Publish(context.Background(), "job", filepath.Join(dir, "missing.mp4")); !errors.Is(err, services.ErrIO) {
		t.Fatalf("expected io error for missing file, got %v", err)
	}
}

func TestNewDisabledReturnsNil(t *testing.T) {
	p, err := publish.New(config.Publish{Enabled: false}, nil)
	if err != nil || p != nil {
		t.Fatalf("expected nil publisher, got %v, %v", p, err)
	}
	if _, err := publish.New(config.Publish{Enabled: true, Backend: "gcs"}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDetectContentType(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("render log"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err := publish.DetectContentType(text); err != nil || !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("text file: %q, %v", got, err)
	}
	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err := publish.DetectContentType(empty); err != nil || got != "application/octet-stream" {
		t.Fatalf("empty file: %q, %v", got, err)
	}
	if got, _ := publish.DetectContentType(filepath.Join(dir, "clip.webm")); got != "video/webm" {
		t.Fatalf("webm: %q", got)
	}
}

// objectStore is a minimal S3-compatible endpoint that accepts single-part
// PUT uploads.
type objectStore struct {
	mu      sync.Mutex
	puts    map[string]int
	headers map[string]string
}

func newObjectStore(t *testing.T) (*objectStore, *httptest.Server) {
	store := &objectStore{puts: make(map[string]int), headers: make(map[string]string)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "unsupported", http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		store.mu.Lock()
		store.puts[r.URL.Path] = len(body)
		store.headers[r.URL.Path] = r.Header.Get("Content-Type")
		store.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return store, server
}

func (s *objectStore) put(path string) (int, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.puts[path]
	return size, s.headers[path], ok
}

func TestMinioBackendUploads(t *testing.T) {
	store, server := newObjectStore(t)
	endpoint, _ := url.Parse(server.URL)

	dir := t.TempDir()
	path := filepath.Join(dir, "final.mp4")
	testsupport.WriteFile(t, path, 4096)

	p, err := publish.New(config.Publish{
		Enabled:   true,
		Backend:   "minio",
		Endpoint:  endpoint.Host,
		Region:    "us-east-1",
		Bucket:    "renders",
		Prefix:    "out",
		AccessKey: "access",
		SecretKey: "secret",
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Publish(context.Background(), "job-1", path)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if want := "http://" + endpoint.Host + "/renders/out/job-1/final.mp4"; got != want {
		t.Fatalf("expected url %q, got %q", want, got)
	}
	if _, contentType, ok := store.put("/renders/out/job-1/final.mp4"); !ok || contentType != "video/mp4" {
		t.Fatalf("expected object uploaded with video/mp4, got ok=%v type=%q", ok, contentType)
	}
}

func TestS3BackendUploads(t *testing.T) {
	store, server := newObjectStore(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "final.mp4")
	testsupport.WriteFile(t, path, 4096)

	p, err := publish.New(config.Publish{
		Enabled:   true,
		Backend:   "s3",
		Endpoint:  server.URL,
		Region:    "us-east-1",
		Bucket:    "renders",
		AccessKey: "access",
		SecretKey: "secret",
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Publish(context.Background(), "job-2", path)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !strings.HasSuffix(got, "/renders/job-2/final.mp4") {
		t.Fatalf("unexpected location %q", got)
	}
	size, _, ok := store.put("/renders/job-2/final.mp4")
	if !ok || size != 4096 {
		t.Fatalf("expected 4096 bytes uploaded, got %d (ok=%v)", size, ok)
	}
}
