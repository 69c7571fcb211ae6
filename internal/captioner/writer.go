package captioner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// FileWriter writes caption text next to the source video, replacing the
// video extension with the configured caption extension.
type FileWriter struct {
	extension       string
	includeMetadata bool
	log             hclog.Logger
}

// NewFileWriter creates a writer. extension should include the leading
// dot; includeMetadata appends a provenance trailer to each file.
func NewFileWriter(extension string, includeMetadata bool, log hclog.Logger) *FileWriter {
	if extension == "" {
		extension = ".txt"
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	return &FileWriter{
		extension:       extension,
		includeMetadata: includeMetadata,
		log:             log,
	}
}

// CaptionPath returns where the caption for videoPath is stored.
func (w *FileWriter) CaptionPath(videoPath string) string {
	ext := filepath.Ext(videoPath)
	return strings.TrimSuffix(videoPath, ext) + w.extension
}

// Write persists one caption. The write goes through a temp file in the
// same directory so a crash never leaves a truncated caption behind.
func (w *FileWriter) Write(videoPath, text string, meta CaptionMeta) error {
	target := w.CaptionPath(videoPath)

	content := strings.TrimSpace(text) + "\n"
	if w.includeMetadata {
		content += w.metadataTrailer(meta)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".caption-*")
	if err != nil {
		return fmt.Errorf("failed to create caption file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write caption: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write caption: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to place caption: %w", err)
	}

	w.log.Debug("caption written", "path", target, "tokens", meta.OutputTokens)
	return nil
}

func (w *FileWriter) metadataTrailer(meta CaptionMeta) string {
	var sb strings.Builder
	sb.WriteString("\n---\n")
	fmt.Fprintf(&sb, "video: %s\n", meta.VideoName)
	fmt.Fprintf(&sb, "generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "worker: %d (%s)\n", meta.WorkerID, meta.Device)
	fmt.Fprintf(&sb, "frames: %d\n", meta.FrameCount)
	fmt.Fprintf(&sb, "output_tokens: %d\n", meta.OutputTokens)
	fmt.Fprintf(&sb, "tokens_per_sec: %.2f\n", meta.TokensPerSec)
	return sb.String()
}
