// Package project defines the declarative edit description consumed by the
// render pipeline.
//
// A Schema holds project metadata, the timeline, ordered tracks of clips,
// per-clip effects, transitions between adjoining clips, and export settings.
// Schemas are loaded from JSON project files by Load and are treated as
// immutable input for the duration of a render.
package project
