// Package main implements the renderpipe CLI.
//
// Commands load the TOML configuration once through commandContext, then
// render a project file, produce previews and segments, inspect job history,
// and report on external dependencies. Queue-driven rendering lives in the
// renderpiped daemon.
package main
