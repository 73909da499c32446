package preflight

import (
	"context"
	"strings"

	"renderpipe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Temp directory (always checked)
	results = append(results, CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir))

	// Output directory (when configured)
	if strings.TrimSpace(cfg.Paths.OutputDir) != "" {
		results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
		if cfg.Pipeline.MinFreeDiskMB > 0 {
			results = append(results, CheckFreeSpace("Output disk", cfg.Paths.OutputDir, uint64(cfg.Pipeline.MinFreeDiskMB)*1024*1024))
		}
	}

	// Object store
	if cfg.Publish.Enabled && cfg.Publish.Backend == "minio" {
		results = append(results, CheckObjectStore(ctx, cfg.Publish.Endpoint, cfg.Publish.UseSSL))
	}

	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
