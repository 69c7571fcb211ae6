package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Bus fans events out to subscribers and retains a bounded history for
// incremental reads. Publishing is non-blocking: when the internal buffer
// is full the event is dropped with a warning rather than stalling the
// publisher.
type Bus struct {
	log hclog.Logger

	mu          sync.RWMutex
	subscribers map[string]subscriber
	history     []Event
	maxHistory  int
	nextSeq     int64
	running     bool

	eventCh chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type subscriber struct {
	types   map[EventType]bool // empty means all types
	handler Handler
}

// NewBus creates a bus with the given channel buffer and history sizes.
func NewBus(bufferSize, maxHistory int, log hclog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxHistory <= 0 {
		maxHistory = 500
	}
	return &Bus{
		log:         log,
		subscribers: make(map[string]subscriber),
		history:     make([]Event, 0, maxHistory),
		maxHistory:  maxHistory,
		eventCh:     make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins event delivery.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("event bus already running")
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.deliver()
	return nil
}

// Stop shuts the bus down, waiting for in-flight deliveries up to the
// context deadline.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish enqueues an event for delivery. The sequence number and
// timestamp are assigned here so history order matches delivery order.
func (b *Bus) Publish(event Event) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("event bus is not running")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.nextSeq++
	event.Seq = b.nextSeq

	b.history = append(b.history, event)
	if len(b.history) > b.maxHistory {
		trim := len(b.history) - b.maxHistory
		b.history = append([]Event(nil), b.history[trim:]...)
	}
	b.mu.Unlock()

	select {
	case b.eventCh <- event:
		return nil
	default:
		b.log.Warn("event channel full, dropping event", "type", event.Type, "id", event.ID)
		return fmt.Errorf("event channel full")
	}
}

// Subscribe registers a handler for the given types; no types means all.
// The returned id is used to unsubscribe.
func (b *Bus) Subscribe(handler Handler, types ...EventType) string {
	typeSet := make(map[EventType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.subscribers[id] = subscriber{types: typeSet, handler: handler}
	return id
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Since returns retained events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.history))
	for _, event := range b.history {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

func (b *Bus) deliver() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			// Drain whatever was already queued.
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if len(sub.types) == 0 || sub.types[event.Type] {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
