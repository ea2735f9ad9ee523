package testutil

import (
	"sync"
	"time"
)

// ManualTimer is a timer that fires only when the test says so.
type ManualTimer struct {
	c       chan time.Time
	d       time.Duration
	mu      sync.Mutex
	stopped bool
	fired   bool
}

// C returns the channel the timer delivers on.
func (t *ManualTimer) C() <-chan time.Time { return t.c }

// Stop prevents the timer from firing. It reports whether the call stopped
// a pending timer.
func (t *ManualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// Duration returns the duration the timer was created with.
func (t *ManualTimer) Duration() time.Duration { return t.d }

// fire delivers one tick unless the timer was stopped or already fired.
func (t *ManualTimer) fire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.fired = true
	t.c <- now
	return true
}

// ManualTimers creates ManualTimers and remembers them so a test can fire
// the one a component is currently waiting on.
//
// Thread-safety: All methods are safe for concurrent use.
type ManualTimers struct {
	mu      sync.Mutex
	timers  []*ManualTimer
	created chan struct{}
}

// NewManualTimers creates an empty timer factory.
func NewManualTimers() *ManualTimers {
	return &ManualTimers{created: make(chan struct{}, 1024)}
}

// New creates a timer. Pass it where a component accepts a timer factory.
func (m *ManualTimers) New(d time.Duration) *ManualTimer {
	t := &ManualTimer{c: make(chan time.Time, 1), d: d}
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	select {
	case m.created <- struct{}{}:
	default:
	}
	return t
}

// Created returns the number of timers created so far.
func (m *ManualTimers) Created() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// WaitCreated blocks until at least n timers exist or timeout elapses.
// It reports whether the count was reached.
func (m *ManualTimers) WaitCreated(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for m.Created() < n {
		select {
		case <-m.created:
		case <-deadline:
			return m.Created() >= n
		}
	}
	return true
}

// FireLatest fires the most recently created timer.
// It reports whether a pending timer fired.
func (m *ManualTimers) FireLatest() bool {
	m.mu.Lock()
	if len(m.timers) == 0 {
		m.mu.Unlock()
		return false
	}
	t := m.timers[len(m.timers)-1]
	m.mu.Unlock()
	return t.fire(time.Time{})
}
