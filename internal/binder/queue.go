package binder

import (
	"sync"

	"github.com/roach88/paramgraph/internal/content"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeInsert carries reference nodes that entered a watched tree.
	EventTypeInsert EventType = iota + 1
	// EventTypeReload announces that a new snapshot was installed.
	EventTypeReload
)

// Event is one notification for the debounced consumer.
type Event struct {
	Type  EventType
	Nodes []*content.Node
}

// eventQueue is a bounded, thread-safe FIFO of notifications.
//
// When full, new events are dropped and the overflow flag is raised; the
// consumer then rescans its watched trees, so no insertion is lost.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	overflow bool
	signal   chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty queue holding at most capacity events.
func newEventQueue(capacity int) *eventQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &eventQueue{
		events:   make([]Event, 0, min(capacity, 64)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue was full and the event was dropped.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	accepted := len(q.events) < q.capacity
	if accepted {
		q.events = append(q.events, e)
	} else {
		q.overflow = true
	}

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return accepted
}

// Drain removes and returns every queued event and whether any were dropped
// since the last drain.
func (q *eventQueue) Drain() ([]Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.events
	overflow := q.overflow
	q.events = make([]Event, 0, min(q.capacity, 64))
	q.overflow = false
	return events, overflow
}

// Pending reports whether there is anything to drain.
func (q *eventQueue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events) > 0 || q.overflow
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
