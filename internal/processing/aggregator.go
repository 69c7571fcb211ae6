package processing

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/vidcaption/captiond/internal/events"
)

// workerView is the aggregator's mirror of one worker's state.
type workerView struct {
	id       int
	device   string
	video    string
	substage string
	progress float64
	active   bool
}

// aggregator owns the job state machine and the progress snapshot. All
// worker events funnel through a single channel consumed serially in
// run, so counters never race; reads go through the RWMutex.
type aggregator struct {
	log     hclog.Logger
	bus     *events.Bus
	sink    SnapshotSink
	history History

	mu          sync.RWMutex
	job         *Job
	workers     []*workerView
	startedAt   time.Time
	finishedAt  time.Time
	totalTokens int
}

func newAggregator(job *Job, bus *events.Bus, sink SnapshotSink, history History, log hclog.Logger) *aggregator {
	return &aggregator{
		log:     log,
		bus:     bus,
		sink:    sink,
		history: history,
		job:     job,
	}
}

// registerWorker adds a worker slot before the run begins.
func (a *aggregator) registerWorker(id int, device string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workers = append(a.workers, &workerView{
		id:       id,
		device:   device,
		substage: "idle",
		active:   true,
	})
}

// jobStarted flips the job into loading_model and records the run.
func (a *aggregator) jobStarted() {
	a.mu.Lock()
	a.startedAt = time.Now()
	a.transition(StageLoadingModel)
	a.mu.Unlock()

	a.history.RecordStart(a.job.ID, a.job.Total())
	a.publish(events.EventJobStarted, "Processing started", "", nil)
	a.publish(events.EventJobLoading, "Loading model", a.job.Settings.ModelID, nil)
	a.push()
}

// processingStarted flips the job into processing once every device
// backend is prepared.
func (a *aggregator) processingStarted() {
	a.mu.Lock()
	a.transition(StageProcessing)
	a.mu.Unlock()
	a.push()
}

// run consumes worker events until every worker has exited, pushing a
// snapshot after each applied event.
func (a *aggregator) run(eventCh <-chan workerEvent, workerCount int) {
	active := workerCount
	for event := range eventCh {
		a.apply(event)
		a.push()
		if event.kind == eventWorkerExited {
			active--
			if active == 0 {
				return
			}
		}
	}
}

func (a *aggregator) apply(event workerEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	view := a.worker(event.workerID)
	if view == nil {
		return
	}

	switch event.kind {
	case eventSubstage:
		view.video = event.video
		view.substage = event.substage
		view.progress = event.progress
		if task := a.job.task(event.video); task != nil {
			task.Status = substageStatus(event.substage)
			if event.tokens > 0 {
				task.TokensGenerated = event.tokens
			}
		}

	case eventTaskDone:
		view.video = ""
		view.substage = "idle"
		view.progress = 0
		if task := a.job.task(event.video); task != nil {
			task.Status = TaskDone
			task.TokensGenerated = event.tokens
			task.Elapsed = event.elapsed
		}
		a.job.completed++
		a.totalTokens += event.tokens

	case eventTaskFailed:
		view.video = ""
		view.substage = "idle"
		view.progress = 0
		if task := a.job.task(event.video); task != nil {
			task.Status = TaskFailed
			task.Error = event.err.Error()
			task.Elapsed = event.elapsed
		}
		a.job.failed++
		a.publish(events.EventTaskFailed, "Video failed", event.video+": "+event.err.Error(),
			map[string]interface{}{"video": event.video})

	case eventWorkerExited:
		view.active = false
		view.video = ""
		view.substage = "idle"
		view.progress = 0
	}
}

// finalize moves the job to its terminal stage, records history, and
// pushes the terminal snapshot unthrottled.
func (a *aggregator) finalize(stage Stage, errMsg string) {
	a.mu.Lock()
	a.transition(stage)
	a.job.errorMessage = errMsg
	a.finishedAt = time.Now()
	completed, failed := a.job.completed, a.job.failed
	a.mu.Unlock()

	a.history.RecordFinish(a.job.ID, stage, completed, failed, errMsg)

	switch stage {
	case StageComplete:
		a.publish(events.EventJobCompleted, "Processing complete", "", map[string]interface{}{
			"completed": completed, "failed": failed,
		})
	case StageError:
		a.publish(events.EventJobFailed, "Processing failed", errMsg, nil)
	case StageStopped:
		a.publish(events.EventJobStopped, "Processing stopped", "", map[string]interface{}{
			"completed": completed, "remaining": a.job.Total() - completed - failed,
		})
	}

	a.push()
}

// transition applies a stage change, logging and refusing invalid ones.
// Callers hold the write lock.
func (a *aggregator) transition(to Stage) {
	from := a.job.stage
	if !validTransition(from, to) {
		a.log.Error("invalid stage transition", "from", from, "to", to)
		return
	}
	a.job.stage = to
	a.log.Info("job stage changed", "job_id", a.job.ID, "from", from, "to", to)
}

// Snapshot builds the current read-only projection.
func (a *aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	job := a.job
	snap := Snapshot{
		Stage:           job.stage,
		TotalVideos:     job.Total(),
		CompletedVideos: job.completed,
		FailedVideos:    job.failed,
		ErrorMessage:    job.errorMessage,
	}

	if !a.startedAt.IsZero() {
		end := time.Now()
		if !a.finishedAt.IsZero() {
			end = a.finishedAt
		}
		snap.ElapsedSeconds = end.Sub(a.startedAt).Seconds()
	}
	if snap.ElapsedSeconds > 0 {
		snap.TokensPerSec = float64(a.totalTokens) / snap.ElapsedSeconds
	}

	// Finished tasks count fully, in-flight tasks fractionally. The
	// floor (completed+failed)/total never regresses.
	if total := job.Total(); total > 0 {
		progress := float64(job.completed+job.failed) / float64(total)
		for _, view := range a.workers {
			if view.active && view.video != "" {
				progress += view.progress / float64(total)
			}
		}
		if progress > 1 {
			progress = 1
		}
		snap.OverallProgress = progress
	}

	snap.Workers = make([]WorkerStatus, len(a.workers))
	for i, view := range a.workers {
		status := WorkerStatus{
			WorkerID:         view.id,
			Device:           view.device,
			Substage:         view.substage,
			SubstageProgress: view.progress,
		}
		if view.video != "" {
			video := view.video
			status.CurrentVideo = &video
		}
		snap.Workers[i] = status
	}
	return snap
}

// modelInfo reports the job's model id and the devices whose backend
// is still live.
func (a *aggregator) modelInfo() (string, []string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var devices []string
	for _, view := range a.workers {
		if view.active {
			devices = append(devices, view.device)
		}
	}
	return a.job.Settings.ModelID, devices
}

func (a *aggregator) worker(id int) *workerView {
	for _, view := range a.workers {
		if view.id == id {
			return view
		}
	}
	return nil
}

func (a *aggregator) push() {
	if a.sink != nil {
		a.sink.Push(a.Snapshot())
	}
}

func (a *aggregator) publish(eventType events.EventType, title, message string, data map[string]interface{}) {
	if a.bus == nil {
		return
	}
	event := events.NewEvent(eventType, title, message)
	event.Data = data
	if err := a.bus.Publish(event); err != nil {
		a.log.Debug("event not published", "type", eventType, "error", err)
	}
}

func substageStatus(substage string) TaskStatus {
	switch substage {
	case "extracting_frames":
		return TaskExtracting
	case "encoding":
		return TaskEncoding
	case "generating":
		return TaskGenerating
	}
	return TaskAssigned
}
