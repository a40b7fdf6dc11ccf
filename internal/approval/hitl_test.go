package approval

import (
	"testing"
	"time"
)

func TestHITLTable_Enqueue_RejectsEmptyOptions(t *testing.T) {
	table := NewHITLTable()
	if _, err := table.Enqueue("w1", "pick one", nil, nil); err == nil {
		t.Fatal("expected an error for zero options")
	}
}

func TestHITLTable_Resolve_RejectsUnknownChoice(t *testing.T) {
	table := NewHITLTable()
	req, err := table.Enqueue("w1", "continue?", []string{"yes", "no"}, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := table.Resolve(req.RequestID, "maybe"); err != ErrInvalidChoice {
		t.Fatalf("expected ErrInvalidChoice, got %v", err)
	}
}

func TestHITLTable_Resolve_MarksResolvedAndReturnsRefreshFlag(t *testing.T) {
	table := NewHITLTable()
	req, err := table.Enqueue("w1", "agent created", []string{"ok"}, map[string]any{"refreshAfterDismiss": true})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resolved, err := table.Resolve(req.RequestID, "ok")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resolved.RefreshAfterDismiss() {
		t.Errorf("expected refreshAfterDismiss to survive resolution")
	}

	if _, err := table.Get(req.RequestID); err != ErrNotFound {
		t.Errorf("expected resolved request to no longer be gettable as pending, got %v", err)
	}
}

func TestHITLTable_Prune_RemovesResolvedAndExpired(t *testing.T) {
	table := NewHITLTable()
	table.ttl = time.Millisecond

	resolved, _ := table.Enqueue("w1", "a", []string{"ok"}, nil)
	table.Resolve(resolved.RequestID, "ok")

	expiring, _ := table.Enqueue("w1", "b", []string{"ok"}, nil)

	removed := table.Prune(time.Now().Add(time.Second))
	if removed != 2 {
		t.Fatalf("expected 2 entries pruned, got %d", removed)
	}
	if _, err := table.Get(expiring.RequestID); err != ErrNotFound {
		t.Errorf("expected expired entry to be gone after prune")
	}
}
