// Package preflight provides readiness checks for filesystem paths and
// external services that renderpipe depends on.
//
// These checks run in two contexts:
//   - The validation stage calls CheckFreeSpace and FreeBytes before a render
//     so a job fails fast instead of running out of disk mid-encode.
//   - The CLI "renderpipe deps" command and the worker startup call RunAll to
//     display directory, disk, and object-store health.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
