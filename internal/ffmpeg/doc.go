// Package ffmpeg translates a project schema into transcoder command lines and
// runs them.
//
// InputBuilder, FilterBuilder, and OutputBuilder each produce one slice of the
// argument vector (input sources, the filter graph, muxing options); Builder
// composes them into full render, segment, preview, and generator commands.
// None of the builders execute anything. Runner is the only type that starts a
// subprocess; ExecRunner parses -progress output and converts exit failures
// into services.FFmpegError values.
//
// The hardware-acceleration decision is a pure function of the target codec
// (ShouldUseHardwareAcceleration) so it can be queried without a render.
package ffmpeg
