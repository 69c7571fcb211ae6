package processing

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/vidcaption/captiond/internal/captioner"
)

// Substage fractions of a single task's progress. Extraction advances
// 0 to extractDone, generation advances generateStart to saveStart by
// token count, saving pins the fraction until completion commits it.
const (
	extractDone   = 0.2
	encodeDone    = 0.4
	generateStart = 0.5
	saveStart     = 0.9
)

type eventKind int

const (
	eventSubstage eventKind = iota
	eventTaskDone
	eventTaskFailed
	eventWorkerExited
)

// workerEvent is one report from a worker to the aggregator. The
// aggregator is the sole consumer; sends block rather than drop so
// counter events are never lost.
type workerEvent struct {
	kind     eventKind
	workerID int
	video    string
	substage string
	progress float64
	tokens   int
	rate     float64
	elapsed  time.Duration
	err      error
}

// worker runs the pipeline over tasks it pulls from the queue, bound to
// one device backend. It owns no shared state besides the queue and the
// event channel.
type worker struct {
	id        int
	backend   captioner.Backend
	extractor captioner.FrameExtractor
	writer    captioner.Writer
	queue     *Queue
	events    chan<- workerEvent
	stopping  *atomic.Bool
	settings  JobSettings
	log       hclog.Logger
}

func (w *worker) run(ctx context.Context) {
	defer func() {
		w.events <- workerEvent{kind: eventWorkerExited, workerID: w.id}
	}()

	for {
		if w.stopping.Load() || ctx.Err() != nil {
			return
		}
		task, ok := w.queue.Pull(w.id)
		if !ok {
			return
		}
		w.process(ctx, task)
	}
}

// process runs one task through extract, encode, generate, persist.
// Task-level failures become taskFailed events and the worker moves on.
// When a stop is in flight the current task is abandoned un-failed at
// the next stage boundary (or mid-stage via context cancellation); it
// then counts toward the remaining total.
func (w *worker) process(ctx context.Context, task *Task) {
	start := time.Now()
	name := task.VideoName

	w.report(name, captioner.StageExtractingFrames, 0, 0)
	frames, _, err := w.extractor.ExtractFrames(ctx, task.Path, w.settings.MaxFrames, w.settings.FrameSize,
		func(done, total int) {
			w.report(name, captioner.StageExtractingFrames, extractDone*float64(done)/float64(total), 0)
		})
	if err != nil {
		if w.abandoned(err) {
			return
		}
		w.fail(task, start, err)
		return
	}
	if w.stopping.Load() {
		return
	}

	// Frame encoding happens inside the backend request build; it is
	// fast relative to the surrounding stages and reported as a fixed
	// fraction.
	w.report(name, captioner.StageEncoding, encodeDone, 0)
	if w.stopping.Load() {
		return
	}

	params := captioner.GenerationParams{
		Prompt:      w.settings.Prompt,
		MaxTokens:   w.settings.MaxTokens,
		Temperature: w.settings.Temperature,
	}
	w.report(name, captioner.StageGenerating, generateStart, 0)
	result, err := w.backend.Generate(ctx, frames, params, func(tokens int) {
		fraction := generateStart
		if w.settings.MaxTokens > 0 {
			fraction += (saveStart - generateStart) * float64(tokens) / float64(w.settings.MaxTokens)
		}
		if fraction > saveStart {
			fraction = saveStart
		}
		w.report(name, captioner.StageGenerating, fraction, tokens)
	})
	if err != nil {
		if w.abandoned(err) {
			return
		}
		w.fail(task, start, err)
		return
	}

	// A finished generation is persisted even when a stop is pending;
	// the write is cheap and the caption is already paid for.
	w.report(name, captioner.StageGenerating, saveStart, result.OutputTokens)
	if err := w.writer.Write(task.Path, result.Text, captioner.CaptionMeta{
		VideoName:    name,
		WorkerID:     w.id,
		Device:       w.backend.Device(),
		FrameCount:   len(frames),
		OutputTokens: result.OutputTokens,
		TokensPerSec: result.TokensPerSec,
	}); err != nil {
		w.fail(task, start, &captioner.PipelineError{
			Stage:   captioner.StageSaving,
			Message: "failed to write caption",
			Err:     err,
		})
		return
	}

	w.events <- workerEvent{
		kind:     eventTaskDone,
		workerID: w.id,
		video:    name,
		tokens:   result.OutputTokens,
		rate:     result.TokensPerSec,
		elapsed:  time.Since(start),
	}
}

func (w *worker) report(video, substage string, progress float64, tokens int) {
	w.events <- workerEvent{
		kind:     eventSubstage,
		workerID: w.id,
		video:    video,
		substage: substage,
		progress: progress,
		tokens:   tokens,
	}
}

func (w *worker) fail(task *Task, start time.Time, err error) {
	w.log.Warn("task failed", "video", task.VideoName, "error", err)
	w.events <- workerEvent{
		kind:     eventTaskFailed,
		workerID: w.id,
		video:    task.VideoName,
		elapsed:  time.Since(start),
		err:      err,
	}
}

// abandoned reports whether err is the cooperative-stop cancellation
// rather than a real task failure.
func (w *worker) abandoned(err error) bool {
	return w.stopping.Load() &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
