package project_test

import (
	"path/filepath"
	"strings"
	"testing"

	"renderpipe/internal/project"
)

const twoClipProject = `{
  "metadata": {"name": "demo"},
  "timeline": {"duration": 20},
  "tracks": [
    {"id": "v1", "type": "video", "clips": [
      {"id": "a", "source": {"kind": "file", "path": "/media/a.mp4"}, "start": 0, "end": 10, "source_start": 0, "source_duration": 10},
      {"id": "b", "source": {"kind": "file", "path": "/media/b.mp4"}, "start": 10, "end": 20, "source_start": 5, "source_duration": 10, "volume": 0.5}
    ]},
    {"id": "a1", "type": "audio", "enabled": false, "clips": [
      {"id": "music", "source": {"path": "/media/music.flac"}, "start": 0, "end": 20}
    ]}
  ],
  "effects": [{"clip_id": "a", "type": "brightness", "params": {"value": "0.2"}}],
  "transitions": [{"type": "crossfade", "from_clip_id": "a", "to_clip_id": "b", "duration": 1}]
}`

func TestParseAppliesDefaults(t *testing.T) {
	schema, err := project.Parse([]byte(twoClipProject))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !schema.Tracks[0].Enabled {
		t.Fatal("expected track without enabled flag to default to enabled")
	}
	if schema.Tracks[1].Enabled {
		t.Fatal("expected explicit enabled=false to be honoured")
	}
	if got := schema.Tracks[0].Clips[0].Volume; got != 1 {
		t.Fatalf("expected default volume 1, got %v", got)
	}
	if got := schema.Tracks[0].Clips[1].Volume; got != 0.5 {
		t.Fatalf("expected explicit volume 0.5, got %v", got)
	}
	if got := schema.Tracks[1].Clips[0].SourceDuration; got != 20 {
		t.Fatalf("expected source duration to default to clip length, got %v", got)
	}
	export := schema.Settings.Export
	if export.Format != "mp4" || export.VideoCodec != "h264" || export.AudioCodec != "aac" {
		t.Fatalf("unexpected export defaults: %+v", export)
	}
	if schema.Settings.Resolution.Width != 1920 || schema.Settings.FrameRate != 30 {
		t.Fatalf("unexpected settings defaults: %+v", schema.Settings)
	}
}

func TestSchemaHelpers(t *testing.T) {
	schema, err := project.Parse([]byte(twoClipProject))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(schema.EnabledTracks()) != 1 {
		t.Fatalf("expected 1 enabled track, got %d", len(schema.EnabledTracks()))
	}
	if !schema.HasEnabledTrack(project.TrackVideo) || schema.HasEnabledTrack(project.TrackAudio) {
		t.Fatal("unexpected enabled track predicates")
	}
	clip, track, ok := schema.FindClip("b")
	if !ok || track.ID != "v1" || clip.SourceStart != 5 {
		t.Fatalf("FindClip(b) = %+v %+v %v", clip, track, ok)
	}
	if _, _, ok := schema.FindClip("missing"); ok {
		t.Fatal("expected missing clip lookup to fail")
	}
	if effects := schema.ClipEffects("a"); len(effects) != 1 || effects[0].Type != "brightness" {
		t.Fatalf("unexpected effects: %+v", effects)
	}
	in, out := schema.TransitionsFor("a")
	if len(in) != 0 || len(out) != 1 {
		t.Fatalf("unexpected transitions for a: in=%d out=%d", len(in), len(out))
	}
	if got := schema.FileSources(); len(got) != 2 || got[0] != "/media/a.mp4" {
		t.Fatalf("unexpected file sources: %v", got)
	}
	schema.Timeline.Duration = 0
	if schema.Duration() != 20 {
		t.Fatalf("expected duration derived from clips, got %v", schema.Duration())
	}
}

func TestClipOverlaps(t *testing.T) {
	clip := project.Clip{Start: 10, End: 20}
	tests := []struct {
		start, end float64
		want       bool
	}{
		{0, 10, false},
		{20, 30, false},
		{5, 11, true},
		{12, 15, true},
		{19.5, 25, true},
	}
	for _, tt := range tests {
		if got := clip.Overlaps(tt.start, tt.end); got != tt.want {
			t.Fatalf("Overlaps(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	schema := &project.Schema{
		Tracks: []project.Track{{
			ID:      "v1",
			Type:    project.TrackVideo,
			Enabled: true,
			Clips: []project.Clip{
				{ID: "a", Source: project.ClipSource{Kind: project.SourceFile}, Start: 5, End: 5},
				{ID: "a", Source: project.ClipSource{Kind: project.SourceGenerated, Generator: &project.Generator{Type: "plasma"}}, Start: 0, End: 1},
			},
		}},
		Effects: []project.Effect{{ClipID: "ghost", Type: "blur"}},
	}
	err := schema.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{
		"metadata.name is required",
		"end must be greater than start",
		"file source requires a path",
		"duplicate clip id",
		"unsupported generator",
		"unknown clip",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %v", fragment, err)
		}
	}
}

func TestValidateAcceptsGeneratedClip(t *testing.T) {
	schema := &project.Schema{
		Metadata: project.Metadata{Name: "slate"},
		Tracks: []project.Track{{
			ID: "v1", Type: project.TrackVideo, Enabled: true,
			Clips: []project.Clip{{
				ID:     "bars",
				Source: project.ClipSource{Kind: project.SourceGenerated, Generator: &project.Generator{Type: project.GeneratorColor, Color: "red"}},
				Start:  0, End: 3, SourceDuration: 3,
			}},
		}},
	}
	if err := schema.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSaveLoadAndFingerprint(t *testing.T) {
	schema, err := project.Parse([]byte(twoClipProject))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	path := filepath.Join(t.TempDir(), "nested", "demo.json")
	if err := schema.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := project.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Fingerprint() != schema.Fingerprint() {
		t.Fatal("expected fingerprint to survive save/load")
	}
	loaded.Settings.Export.VideoCodec = "vp9"
	if loaded.Fingerprint() == schema.Fingerprint() {
		t.Fatal("expected fingerprint to change with export settings")
	}
	if _, err := project.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing project")
	}
}
