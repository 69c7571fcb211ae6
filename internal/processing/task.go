// Package processing implements the captioning run manager: the work
// queue, the per-device worker pipelines, the progress aggregator and
// job state machine, and the stop handling that ties them together.
package processing

import (
	"sync"
	"time"
)

// TaskStatus tracks one video through the pipeline.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskAssigned   TaskStatus = "assigned"
	TaskExtracting TaskStatus = "extracting"
	TaskEncoding   TaskStatus = "encoding"
	TaskGenerating TaskStatus = "generating"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// Task is one video's unit of work within a job. Fields are mutated only
// by the worker holding the task and mirrored by the aggregator.
type Task struct {
	VideoName       string
	Path            string
	Status          TaskStatus
	AssignedWorker  int
	Error           string
	TokensGenerated int
	Elapsed         time.Duration
}

// TaskSpec names one video to caption.
type TaskSpec struct {
	Name string
	Path string
}

// Queue is the shared pool of pending tasks. Workers pull dynamically;
// Pull atomically hands the next queued task to exactly one caller.
type Queue struct {
	mu    sync.Mutex
	tasks []*Task
	next  int
}

// NewQueue wraps the job's ordered task list. The queue does not copy
// the tasks; it shares them with the job.
func NewQueue(tasks []*Task) *Queue {
	return &Queue{tasks: tasks}
}

// Pull returns the next queued task marked assigned to workerID, or
// false when none remain. Assignment order is FIFO by input order.
func (q *Queue) Pull(workerID int) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.next < len(q.tasks) {
		task := q.tasks[q.next]
		q.next++
		if task.Status != TaskQueued {
			continue
		}
		task.Status = TaskAssigned
		task.AssignedWorker = workerID
		return task, true
	}
	return nil, false
}

// Pending reports how many tasks have not yet been pulled.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := 0
	for i := q.next; i < len(q.tasks); i++ {
		if q.tasks[i].Status == TaskQueued {
			pending++
		}
	}
	return pending
}
