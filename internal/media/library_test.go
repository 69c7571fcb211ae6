package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExtensions = []string{".mp4", ".mkv", ".webm"}

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	dir := t.TempDir()
	lib, err := NewLibrary(dir, testExtensions, ".txt", false, hclog.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(lib.Close)
	return lib, dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVideosFiltersByExtension(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeFile(t, dir, "a.mp4", "x")
	writeFile(t, dir, "b.MKV", "x")
	writeFile(t, dir, "notes.txt", "x")
	writeFile(t, dir, "c.avi", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	videos, err := lib.Videos()
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "a.mp4", videos[0].Name)
	assert.Equal(t, "b.MKV", videos[1].Name)
}

func TestCaptionPresenceAndPreview(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeFile(t, dir, "clip.mp4", "x")
	writeFile(t, dir, "clip.txt", "A dog runs on a beach.\n---\nworker: 0 (cuda:0)\n")

	videos, err := lib.Videos()
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.True(t, videos[0].HasCaption)
	assert.Equal(t, "A dog runs on a beach.", videos[0].CaptionPreview)
}

func TestCaptionPreviewKeepsRunesIntact(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeFile(t, dir, "clip.mp4", "x")
	writeFile(t, dir, "clip.txt", strings.Repeat("ü", 300))

	videos, err := lib.Videos()
	require.NoError(t, err)
	require.Len(t, videos, 1)

	preview := videos[0].CaptionPreview
	assert.True(t, utf8.ValidString(preview))
	assert.True(t, strings.HasSuffix(preview, "…"))
	assert.Len(t, []rune(preview), captionPreviewLen+1)
}

func TestSaveUpload(t *testing.T) {
	lib, dir := newTestLibrary(t)

	entry, err := lib.SaveUpload("/incoming/../clip.mp4", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", entry.Name)
	assert.Equal(t, int64(4), entry.SizeBytes)
	assert.FileExists(t, filepath.Join(dir, "clip.mp4"))

	_, err = lib.SaveUpload("notes.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedExtension)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".upload-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestResolve(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeFile(t, dir, "a.mp4", "x")
	writeFile(t, dir, "b.mp4", "x")

	all, err := lib.Resolve(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := lib.Resolve([]string{"b.mp4"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "b.mp4", some[0].Name)
	assert.Equal(t, filepath.Join(dir, "b.mp4"), some[0].Path)

	_, err = lib.Resolve([]string{"missing.mp4"})
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestCaptionRoundTrip(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeFile(t, dir, "clip.mp4", "x")
	writeFile(t, dir, "clip.txt", "caption text\n")

	text, err := lib.Caption("clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "caption text\n", text)

	captions, err := lib.Captions()
	require.NoError(t, err)
	assert.Len(t, captions, 1)

	require.NoError(t, lib.DeleteCaption("clip.mp4"))
	_, err = lib.Caption("clip.mp4")
	assert.ErrorIs(t, err, ErrCaptionNotFound)
}

func TestDeleteVideoRemovesCaption(t *testing.T) {
	lib, dir := newTestLibrary(t)
	videoPath := writeFile(t, dir, "clip.mp4", "x")
	captionPath := writeFile(t, dir, "clip.txt", "caption")

	require.NoError(t, lib.Delete("clip.mp4"))
	assert.NoFileExists(t, videoPath)
	assert.NoFileExists(t, captionPath)

	videos, err := lib.Videos()
	require.NoError(t, err)
	assert.Empty(t, videos)
}

func TestVideosTraversesSubfolders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "season1"), 0o755))
	writeFile(t, dir, "top.mp4", "x")
	writeFile(t, filepath.Join(dir, "season1"), "ep1.mp4", "x")
	writeFile(t, filepath.Join(dir, "season1"), "ep1.txt", "a caption")

	lib, err := NewLibrary(dir, testExtensions, ".txt", true, hclog.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(lib.Close)

	videos, err := lib.Videos()
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "season1/ep1.mp4", videos[0].Name)
	assert.True(t, videos[0].HasCaption)
	assert.Equal(t, "top.mp4", videos[1].Name)

	specs, err := lib.Resolve([]string{"season1/ep1.mp4"})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, filepath.Join(dir, "season1", "ep1.mp4"), specs[0].Path)
}

func TestSetRootRejectsMissingDir(t *testing.T) {
	lib, _ := newTestLibrary(t)
	assert.Error(t, lib.SetRoot("/no/such/dir"))

	other := t.TempDir()
	require.NoError(t, lib.SetRoot(other))
	assert.Equal(t, other, lib.Root())
}

func TestBrowseDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "movies"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".hidden"), 0o755))
	writeFile(t, dir, "file.mp4", "x")

	parent, dirs, err := BrowseDir(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(dir), parent)
	assert.Equal(t, []string{"movies"}, dirs)
}
