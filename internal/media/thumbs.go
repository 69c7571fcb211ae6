package media

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/chai2010/webp"
	"github.com/hashicorp/go-hclog"
)

// Thumbnailer extracts a representative frame with ffmpeg and caches it
// as WebP, keyed by the video's path, size, and modification time so a
// re-encoded video gets a fresh thumbnail.
type Thumbnailer struct {
	ffmpegPath string
	cacheDir   string
	quality    float32
	log        hclog.Logger
}

func NewThumbnailer(ffmpegPath, cacheDir string, quality float32, log hclog.Logger) (*Thumbnailer, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail cache: %w", err)
	}
	return &Thumbnailer{ffmpegPath: ffmpegPath, cacheDir: cacheDir, quality: quality, log: log}, nil
}

// Thumbnail returns the WebP thumbnail for videoPath, generating and
// caching it on first request.
func (t *Thumbnailer) Thumbnail(ctx context.Context, videoPath string, size int) ([]byte, error) {
	if size <= 0 {
		size = 320
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, err
	}

	cached := filepath.Join(t.cacheDir, t.cacheKey(videoPath, size, info.ModTime().UnixNano()))
	if data, err := os.ReadFile(cached); err == nil {
		return data, nil
	}

	frame, err := t.extractFrame(ctx, videoPath, size)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, frame, &webp.Options{Quality: t.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	if err := os.WriteFile(cached, buf.Bytes(), 0o644); err != nil {
		t.log.Warn("thumbnail not cached", "path", cached, "error", err)
	}
	return buf.Bytes(), nil
}

// ClearCache deletes every cached thumbnail.
func (t *Thumbnailer) ClearCache() error {
	entries, err := os.ReadDir(t.cacheDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".webp" {
			os.Remove(filepath.Join(t.cacheDir, entry.Name()))
		}
	}
	return nil
}

func (t *Thumbnailer) cacheKey(videoPath string, size int, modTime int64) string {
	sum := sha1.Sum([]byte(videoPath + "|" + strconv.Itoa(size) + "|" + strconv.FormatInt(modTime, 10)))
	return hex.EncodeToString(sum[:]) + ".webp"
}

// extractFrame grabs a frame a few seconds in, falling back to the
// first frame for very short clips.
func (t *Thumbnailer) extractFrame(ctx context.Context, videoPath string, size int) (image.Image, error) {
	for _, seek := range []string{"3", "0"} {
		args := []string{
			"-hide_banner", "-nostdin",
			"-ss", seek,
			"-i", videoPath,
			"-frames:v", "1",
			"-vf", fmt.Sprintf("scale=%d:-2", size),
			"-f", "image2pipe",
			"-c:v", "mjpeg",
			"-q:v", "4",
			"pipe:1",
		}
		cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil || stdout.Len() == 0 {
			continue
		}
		frame, err := jpeg.Decode(&stdout)
		if err != nil {
			continue
		}
		return frame, nil
	}
	return nil, fmt.Errorf("could not extract a thumbnail frame from %s", filepath.Base(videoPath))
}
