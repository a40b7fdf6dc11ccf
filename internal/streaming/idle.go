package streaming

import (
	"context"
	"time"
)

// Default idle-detection parameters.
const (
	DefaultMainTimeout = 30 * time.Second
	DefaultGracePeriod = 2 * time.Second
	pollInterval       = 50 * time.Millisecond
)

// IdleWaiter resolves an SSE connection's lifetime: it tracks a main
// timeout that any qualifying activity extends, and resolves early once
// the world's activity counter (tracker) has returned to zero for at
// least the grace period.
//
// Built against a mutex-guarded last-activity timestamp idiom, reused
// here as ActivityTracker.
type IdleWaiter struct {
	tracker     *ActivityTracker
	mainTimeout time.Duration
	grace       time.Duration
	extend      chan struct{}
}

// NewIdleWaiter constructs a waiter bound to tracker.
func NewIdleWaiter(tracker *ActivityTracker, mainTimeout, grace time.Duration) *IdleWaiter {
	if mainTimeout <= 0 {
		mainTimeout = DefaultMainTimeout
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &IdleWaiter{
		tracker:     tracker,
		mainTimeout: mainTimeout,
		grace:       grace,
		extend:      make(chan struct{}, 1),
	}
}

// Notify extends the main timeout; call on every qualifying activity
// (stream start/chunk/end, tool-start/end, tool-stream).
func (w *IdleWaiter) Notify() {
	select {
	case w.extend <- struct{}{}:
	default:
	}
}

// Wait blocks until the connection should close: either the world
// returned to idle for the grace period, the main timeout elapsed
// without renewed activity, or ctx was cancelled (client disconnect).
func (w *IdleWaiter) Wait(ctx context.Context) error {
	timer := time.NewTimer(w.mainTimeout)
	ticker := time.NewTicker(pollInterval)
	defer timer.Stop()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			return nil

		case <-w.extend:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.mainTimeout)

		case <-ticker.C:
			if w.tracker.Idle(w.grace) {
				return nil
			}
		}
	}
}
