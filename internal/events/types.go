// Package events provides the in-process event bus used for job
// lifecycle notifications and the event history endpoint.
package events

import "time"

// EventType classifies bus events.
type EventType string

const (
	// Job lifecycle events
	EventJobStarted   EventType = "job.started"
	EventJobLoading   EventType = "job.loading_model"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobStopped   EventType = "job.stopped"

	// Task events
	EventTaskFailed EventType = "task.failed"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
)

// Event is one bus notification. Seq is assigned by the bus in publish
// order and supports incremental reads.
type Event struct {
	ID        string                 `json:"id"`
	Seq       int64                  `json:"seq"`
	Type      EventType              `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler consumes events delivered by a subscription.
type Handler func(event Event)

// NewEvent builds an event with the required descriptive fields.
func NewEvent(eventType EventType, title, message string) Event {
	return Event{
		Type:    eventType,
		Title:   title,
		Message: message,
	}
}
