// Package pipeline renders a project to an output file by running an ordered
// list of stages against a per-job Context.
//
// New wires the five default stages (validation, preprocessing, composition,
// encoding, finalization) around an ffmpeg.Builder, a shared
// rendercache.Cache, and an ffmpeg.Runner. Execute visits the stages in order,
// skipping any whose CanSkip reports true, and stops at the first failure.
// Stage errors are returned unchanged; nothing is retried here. Cancel is
// cooperative: the flag is observed between stages, and the context handed to
// the running stage is cancelled so an in-flight transcoder exits.
//
// Each job owns its Context, including a lazily created temp directory that
// is removed on every exit path. The render cache is the only state shared
// between concurrently running pipelines.
//
// RenderPreview and RenderSegment reuse the same builders and cache for
// single-frame previews and partial re-renders outside a full run.
package pipeline
