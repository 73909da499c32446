package testsupport

import (
	"path/filepath"
	"testing"

	"renderpipe/internal/project"
)

// SampleProject returns a validated two-clip project whose file sources exist
// under dir/media. Clip a spans 0-5s and clip b spans 5-10s
// on one video track; a music clip covers the whole timeline on an audio track.
func SampleProject(t testing.TB, dir string) *project.Schema {
	t.Helper()

	mediaDir := filepath.Join(dir, "media")
	paths := map[string]string{
		"a":     filepath.Join(mediaDir, "a.mp4"),
		"b":     filepath.Join(mediaDir, "b.mp4"),
		"music": filepath.Join(mediaDir, "music.flac"),
	}
	for _, path := range paths {
		WriteFile(t, path, 1024)
	}

	schema := &project.Schema{
		Metadata: project.Metadata{Name: "sample", Version: "1"},
		Timeline: project.Timeline{Duration: 10},
		Tracks: []project.Track{
			{ID: "v1", Name: "Video", Type: project.TrackVideo, Enabled: true, Clips: []project.Clip{
				{ID: "a", Source: project.ClipSource{Kind: project.SourceFile, Path: paths["a"]}, Start: 0, End: 5, SourceDuration: 5, Volume: 1},
				{ID: "b", Source: project.ClipSource{Kind: project.SourceFile, Path: paths["b"]}, Start: 5, End: 10, SourceDuration: 5, Volume: 1},
			}},
			{ID: "a1", Name: "Music", Type: project.TrackAudio, Enabled: true, Clips: []project.Clip{
				{ID: "music", Source: project.ClipSource{Kind: project.SourceFile, Path: paths["music"]}, Start: 0, End: 10, SourceDuration: 10, Volume: 0.8},
			}},
		},
	}
	schema.ApplyDefaults()
	if err := schema.Validate(); err != nil {
		t.Fatalf("sample project invalid: %v", err)
	}
	return schema
}
