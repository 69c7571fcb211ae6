package processing

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the job lifecycle state.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageLoadingModel Stage = "loading_model"
	StageProcessing   Stage = "processing"
	StageComplete     Stage = "complete"
	StageError        Stage = "error"
	StageStopped      Stage = "stopped"
)

// Terminal reports whether the stage ends a job. Idle counts as terminal
// for run-slot purposes: a new job may start from it.
func (s Stage) Terminal() bool {
	switch s {
	case StageIdle, StageComplete, StageError, StageStopped:
		return true
	}
	return false
}

// validTransition encodes the job state machine. Transitions are applied
// only by the aggregator.
func validTransition(from, to Stage) bool {
	switch from {
	case StageIdle:
		return to == StageLoadingModel
	case StageLoadingModel:
		return to == StageProcessing || to == StageError || to == StageStopped
	case StageProcessing:
		return to == StageComplete || to == StageError || to == StageStopped
	}
	return false
}

// JobSettings is the immutable settings snapshot a job runs with.
type JobSettings struct {
	ModelID         string
	Devices         []string
	Dtype           string
	Prompt          string
	MaxFrames       int
	FrameSize       int
	MaxTokens       int
	Temperature     float64
	IncludeMetadata bool
}

// Job is one processing run: an ordered task list, a settings snapshot,
// and a lifecycle driven by the aggregator. Mutation happens only under
// the aggregator's lock.
type Job struct {
	ID        string
	CreatedAt time.Time
	Settings  JobSettings

	tasks  []*Task
	byName map[string]*Task

	stage        Stage
	completed    int
	failed       int
	errorMessage string
}

// NewJob builds a job from the requested video list. Duplicate names are
// collapsed to their first occurrence.
func NewJob(specs []TaskSpec, settings JobSettings) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Settings:  settings,
		byName:    make(map[string]*Task, len(specs)),
		stage:     StageIdle,
	}
	for _, spec := range specs {
		if _, seen := job.byName[spec.Name]; seen {
			continue
		}
		task := &Task{VideoName: spec.Name, Path: spec.Path, Status: TaskQueued}
		job.tasks = append(job.tasks, task)
		job.byName[spec.Name] = task
	}
	return job
}

// Total returns the number of requested tasks.
func (j *Job) Total() int {
	return len(j.tasks)
}

// Tasks returns the ordered task list shared with the queue.
func (j *Job) Tasks() []*Task {
	return j.tasks
}

func (j *Job) task(name string) *Task {
	return j.byName[name]
}
