// Package captioner defines the pipeline collaborators consumed by the
// processing manager: frame extraction, caption generation, and caption
// persistence. The manager treats all three as black boxes behind these
// interfaces.
package captioner

import (
	"context"
	"fmt"
)

// Pipeline stage names, also used as worker substage identifiers on the
// wire.
const (
	StageExtractingFrames = "extracting_frames"
	StageEncoding         = "encoding"
	StageGenerating       = "generating"
	StageSaving           = "saving"
)

// Frame is one decoded video frame, JPEG-encoded.
type Frame struct {
	Index int
	Data  []byte
}

// VideoMeta describes the source video.
type VideoMeta struct {
	DurationSec float64 `json:"duration_sec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FrameCount  int     `json:"frame_count"`
	FPS         float64 `json:"fps"`
}

// GenerationParams is the immutable per-task generation request.
type GenerationParams struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// GenerationResult is the model output for one video.
type GenerationResult struct {
	Text         string
	OutputTokens int
	TokensPerSec float64
}

// FrameExtractor turns a media file into an ordered frame sequence.
// onProgress is invoked as frames become available; it may be nil.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, path string, maxFrames, frameSize int, onProgress func(done, total int)) ([]Frame, VideoMeta, error)
}

// Backend is one per-device model instance. Prepare loads the model,
// Generate runs one captioning call with a per-token progress callback,
// and Shutdown releases the device.
type Backend interface {
	Device() string
	Prepare(ctx context.Context) error
	Generate(ctx context.Context, frames []Frame, params GenerationParams, onToken func(tokens int)) (GenerationResult, error)
	Shutdown(ctx context.Context) error
}

// CaptionMeta is the optional trailer appended to caption artifacts.
type CaptionMeta struct {
	VideoName    string
	WorkerID     int
	Device       string
	FrameCount   int
	OutputTokens int
	TokensPerSec float64
}

// Writer persists one caption artifact per completed task.
type Writer interface {
	Write(videoPath, text string, meta CaptionMeta) error
}

// PipelineError is a stage-aware task failure. Task-level errors are
// wrapped in one of these so the worker can report which substage broke.
type PipelineError struct {
	Stage   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
