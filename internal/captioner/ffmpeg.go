package captioner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpegExtractor extracts evenly-spaced frames with ffmpeg and probes
// metadata with ffprobe.
type FFmpegExtractor struct {
	ffmpegPath  string
	ffprobePath string
	workDirBase string
	runner      commandRunner
	log         hclog.Logger
}

// NewFFmpegExtractor constructs the production extractor. workDirBase
// names the directory under the OS temp dir used for frame scratch space.
func NewFFmpegExtractor(ffmpegPath, ffprobePath, workDirBase string, log hclog.Logger) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if workDirBase == "" {
		workDirBase = "captiond-frames"
	}
	return &FFmpegExtractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		workDirBase: workDirBase,
		runner:      &execRunner{},
		log:         log,
	}
}

// ExtractFrames decodes up to maxFrames frames, scaled so the longer
// side is frameSize, returned in presentation order.
func (e *FFmpegExtractor) ExtractFrames(ctx context.Context, path string, maxFrames, frameSize int, onProgress func(done, total int)) ([]Frame, VideoMeta, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, VideoMeta{}, &PipelineError{
			Stage:   StageExtractingFrames,
			Message: fmt.Sprintf("cannot access video: %s", path),
			Err:     err,
		}
	}

	meta, err := e.Probe(ctx, path)
	if err != nil {
		return nil, VideoMeta{}, err
	}

	tempDir, err := os.MkdirTemp("", e.workDirBase+"-*")
	if err != nil {
		return nil, VideoMeta{}, &PipelineError{
			Stage:   StageExtractingFrames,
			Message: "failed to create frame workspace",
			Err:     err,
		}
	}
	defer os.RemoveAll(tempDir)

	pattern := filepath.Join(tempDir, "frame_%04d.jpg")
	args := buildExtractArgs(path, pattern, meta.DurationSec, maxFrames, frameSize)

	result, runErr := e.runner.Run(ctx, e.ffmpegPath, args...)
	if runErr != nil {
		return nil, VideoMeta{}, &PipelineError{
			Stage:   StageExtractingFrames,
			Message: fmt.Sprintf("ffmpeg decode failed (exit=%d): %s", result.ExitCode, tail(result.Stderr)),
			Err:     runErr,
		}
	}

	paths, err := filepath.Glob(filepath.Join(tempDir, "frame_*.jpg"))
	if err != nil || len(paths) == 0 {
		return nil, VideoMeta{}, &PipelineError{
			Stage:   StageExtractingFrames,
			Message: "ffmpeg completed but produced no frames",
			Err:     err,
		}
	}
	sort.Strings(paths)

	frames := make([]Frame, 0, len(paths))
	for i, framePath := range paths {
		select {
		case <-ctx.Done():
			return nil, VideoMeta{}, ctx.Err()
		default:
		}

		data, err := os.ReadFile(framePath)
		if err != nil {
			return nil, VideoMeta{}, &PipelineError{
				Stage:   StageExtractingFrames,
				Message: fmt.Sprintf("failed to read frame %d", i),
				Err:     err,
			}
		}
		frames = append(frames, Frame{Index: i, Data: data})
		if onProgress != nil {
			onProgress(i+1, len(paths))
		}
	}

	e.log.Debug("frames extracted", "video", filepath.Base(path), "frames", len(frames), "duration", meta.DurationSec)
	return frames, meta, nil
}

// Probe returns duration, resolution, and frame statistics for a video.
func (e *FFmpegExtractor) Probe(ctx context.Context, path string) (VideoMeta, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames:format=duration",
		"-of", "default=noprint_wrappers=1",
		path,
	}
	result, err := e.runner.Run(ctx, e.ffprobePath, args...)
	if err != nil {
		return VideoMeta{}, &PipelineError{
			Stage:   StageExtractingFrames,
			Message: fmt.Sprintf("ffprobe failed (exit=%d): %s", result.ExitCode, tail(result.Stderr)),
			Err:     err,
		}
	}
	return parseProbeOutput(result.Stdout), nil
}

func parseProbeOutput(out string) VideoMeta {
	var meta VideoMeta
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "width":
			meta.Width, _ = strconv.Atoi(value)
		case "height":
			meta.Height, _ = strconv.Atoi(value)
		case "nb_frames":
			meta.FrameCount, _ = strconv.Atoi(value)
		case "duration":
			meta.DurationSec, _ = strconv.ParseFloat(value, 64)
		case "r_frame_rate":
			num, den, ok := strings.Cut(value, "/")
			if !ok {
				continue
			}
			n, _ := strconv.ParseFloat(num, 64)
			d, _ := strconv.ParseFloat(den, 64)
			if d > 0 {
				meta.FPS = n / d
			}
		}
	}
	return meta
}

// buildExtractArgs samples maxFrames frames evenly across the video and
// scales the longer side to frameSize.
func buildExtractArgs(inputPath, outPattern string, durationSec float64, maxFrames, frameSize int) []string {
	if maxFrames <= 0 {
		maxFrames = 16
	}
	if frameSize <= 0 {
		frameSize = 336
	}

	// fps filter value so roughly maxFrames frames span the whole clip.
	fps := 1.0
	if durationSec > 0 {
		fps = float64(maxFrames) / durationSec
	}

	vf := fmt.Sprintf(
		"fps=%s,scale='if(gt(iw,ih),%d,-2)':'if(gt(iw,ih),-2,%d)'",
		strconv.FormatFloat(fps, 'f', 6, 64), frameSize, frameSize,
	)

	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vf", vf,
		"-frames:v", strconv.Itoa(maxFrames),
		"-q:v", "3",
		outPattern,
	}
}

// tail trims command output to its last line for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
