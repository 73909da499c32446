package testsupport

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile writes a stand-in media file of exactly size bytes. The file opens
// with the container signature its extension implies (an ftyp box for
// mp4/mov/m4a, fLaC, RIFF/WAVE) and is padded with zeros. A size <= 0 writes
// the bare signature, or one byte for unknown extensions.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := mediaHeader(path)
	if size <= 0 {
		size = int64(max(len(data), 1))
	}
	if int64(len(data)) > size {
		data = data[:size]
	}
	data = append(data, make([]byte, size-int64(len(data)))...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mediaHeader(path string) []byte {
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".mov", ".m4a":
		_ = binary.Write(&buf, binary.BigEndian, uint32(24))
		buf.WriteString("ftypisom")
		_ = binary.Write(&buf, binary.BigEndian, uint32(512))
		buf.WriteString("isommp41")
	case ".flac":
		buf.WriteString("fLaC")
	case ".wav":
		buf.WriteString("RIFF")
		_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
		buf.WriteString("WAVEfmt ")
	}
	return buf.Bytes()
}
