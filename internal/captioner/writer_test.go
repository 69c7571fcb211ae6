package captioner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptionPath(t *testing.T) {
	w := NewFileWriter(".txt", false, hclog.NewNullLogger())
	assert.Equal(t, "/videos/clip.txt", w.CaptionPath("/videos/clip.mp4"))
	assert.Equal(t, "/videos/a.b.txt", w.CaptionPath("/videos/a.b.mkv"))

	// Missing dot is tolerated.
	w = NewFileWriter("caption", false, hclog.NewNullLogger())
	assert.Equal(t, "/videos/clip.caption", w.CaptionPath("/videos/clip.mp4"))
}

func TestWritePlainCaption(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("x"), 0o644))

	w := NewFileWriter(".txt", false, hclog.NewNullLogger())
	require.NoError(t, w.Write(videoPath, "  A calm lake at dawn.  ", CaptionMeta{}))

	data, err := os.ReadFile(filepath.Join(dir, "clip.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A calm lake at dawn.\n", string(data))

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriteWithMetadataTrailer(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("x"), 0o644))

	w := NewFileWriter(".txt", true, hclog.NewNullLogger())
	require.NoError(t, w.Write(videoPath, "caption body", CaptionMeta{
		VideoName:    "clip.mp4",
		WorkerID:     1,
		Device:       "cuda:1",
		FrameCount:   16,
		OutputTokens: 230,
		TokensPerSec: 38.25,
	}))

	data, err := os.ReadFile(filepath.Join(dir, "clip.txt"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "caption body\n")
	assert.Contains(t, text, "\n---\n")
	assert.Contains(t, text, "worker: 1 (cuda:1)")
	assert.Contains(t, text, "frames: 16")
	assert.Contains(t, text, "output_tokens: 230")
	assert.Contains(t, text, "tokens_per_sec: 38.25")
}

func TestWriteOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "clip.mp4")
	captionPath := filepath.Join(dir, "clip.txt")
	require.NoError(t, os.WriteFile(videoPath, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(captionPath, []byte("old"), 0o644))

	w := NewFileWriter(".txt", false, hclog.NewNullLogger())
	require.NoError(t, w.Write(videoPath, "new caption", CaptionMeta{}))

	data, err := os.ReadFile(captionPath)
	require.NoError(t, err)
	assert.Equal(t, "new caption\n", string(data))
}
