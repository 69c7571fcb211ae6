package media

import (
	"errors"
	"fmt"
	"os"
)

// ErrCaptionNotFound is returned when a video has no caption yet.
var ErrCaptionNotFound = errors.New("caption not found")

// CaptionEntry pairs a video with its full caption text.
type CaptionEntry struct {
	VideoName string `json:"video_name"`
	Text      string `json:"text"`
}

// Captions returns the full caption text for every captioned video.
func (l *Library) Captions() ([]CaptionEntry, error) {
	videos, err := l.Videos()
	if err != nil {
		return nil, err
	}

	var captions []CaptionEntry
	for _, video := range videos {
		if !video.HasCaption {
			continue
		}
		text, err := l.Caption(video.Name)
		if err != nil {
			continue
		}
		captions = append(captions, CaptionEntry{VideoName: video.Name, Text: text})
	}
	return captions, nil
}

// Caption returns one video's caption text.
func (l *Library) Caption(name string) (string, error) {
	video, err := l.Lookup(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(l.CaptionPath(video.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrCaptionNotFound
		}
		return "", fmt.Errorf("failed to read caption: %w", err)
	}
	return string(data), nil
}

// DeleteCaption removes one video's caption file.
func (l *Library) DeleteCaption(name string) error {
	video, err := l.Lookup(name)
	if err != nil {
		return err
	}
	if err := os.Remove(l.CaptionPath(video.Path)); err != nil {
		if os.IsNotExist(err) {
			return ErrCaptionNotFound
		}
		return fmt.Errorf("failed to delete caption: %w", err)
	}

	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
	return nil
}
