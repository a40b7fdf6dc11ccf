// Package streaming implements the SSE wire layer: per-connection event
// serialization, idle-timeout detection, and a per-world activity
// counter the orchestrator marks around in-flight turns.
package streaming

import (
	"sync"
	"time"
)

// ActivityTracker is a world's activity counter: the
// orchestrator calls Begin/End around actual work (an LLM stream, a
// tool execution), and Mark on every qualifying SSE event so idle
// detection sees activity even between Begin/End pairs (e.g. between
// two chunks of the same stream).
//
// Tracks a mutex-guarded last-activity timestamp plus an active-work
// counter: idle means the counter is back to zero and no activity has
// been recorded for a grace period, not just a stale timestamp.
type ActivityTracker struct {
	mu     sync.Mutex
	active int
	last   time.Time
}

// NewActivityTracker returns a tracker with no recorded activity.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{}
}

// Begin marks the start of one unit of in-flight work (an LLM stream, a
// tool execution) and records activity.
func (t *ActivityTracker) Begin() {
	t.mu.Lock()
	t.active++
	t.last = time.Now()
	t.mu.Unlock()
}

// End marks the end of one unit of in-flight work.
func (t *ActivityTracker) End() {
	t.mu.Lock()
	if t.active > 0 {
		t.active--
	}
	t.last = time.Now()
	t.mu.Unlock()
}

// Mark records activity without changing the active-work count, for
// qualifying events that aren't themselves begin/end boundaries (a
// single chunk or tool-stream delta within an already-begun stream).
func (t *ActivityTracker) Mark() {
	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()
}

// Idle reports whether the tracker's active-work count is zero and no
// activity has been recorded for at least grace.
func (t *ActivityTracker) Idle(grace time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active > 0 {
		return false
	}
	if t.last.IsZero() {
		return true
	}
	return time.Since(t.last) >= grace
}

// IdleDuration returns how long since the last recorded activity. Zero
// when no activity has ever been recorded.
func (t *ActivityTracker) IdleDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.IsZero() {
		return 0
	}
	return time.Since(t.last)
}
