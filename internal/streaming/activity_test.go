package streaming

import (
	"testing"
	"time"
)

func TestActivityTrackerIdleWhenNeverTouched(t *testing.T) {
	tr := NewActivityTracker()
	if !tr.Idle(2 * time.Second) {
		t.Fatal("expected a fresh tracker to be idle")
	}
}

func TestActivityTrackerBusyWhileActive(t *testing.T) {
	tr := NewActivityTracker()
	tr.Begin()
	if tr.Idle(0) {
		t.Fatal("expected tracker to be busy while a unit of work is in flight")
	}
	tr.End()
	if !tr.Idle(0) {
		t.Fatal("expected tracker to be idle once all work ended (zero grace)")
	}
}

func TestActivityTrackerGracePeriod(t *testing.T) {
	tr := NewActivityTracker()
	tr.Mark()
	if tr.Idle(time.Hour) {
		t.Fatal("expected tracker to still be within the grace period")
	}
	if !tr.Idle(0) {
		t.Fatal("expected tracker to be idle with a zero grace period")
	}
}
