// Package services defines shared utilities consumed by the render pipeline
// stages and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and the typed FFmpeg,
//     dependency, and render errors that carry exit codes, stderr, and stage
//     attribution back to callers.
//   - Kind and Retryable, which classify failures for history rows, worker
//     status messages, and CLI output.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
