// Package logging assembles structured slog loggers and formatting helpers used
// across renderpipe.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can automatically
// tag log lines with job IDs, stage names, and correlation IDs. Per-stage level
// overrides, tee handlers for per-job log files, retention pruning, and a
// progress sampler round out the package. A no-op logger is provided for tests
// and wiring code that cannot fail.
package logging
