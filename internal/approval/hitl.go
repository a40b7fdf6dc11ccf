package approval

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld/runtime/pkg/models"
)

// ErrNotFound is returned when a request ID has no matching pending
// entry, whether because it never existed or was already resolved.
var ErrNotFound = fmt.Errorf("approval: request not found")

// ErrInvalidChoice is returned when Resolve's choice isn't one of the
// request's options.
var ErrInvalidChoice = fmt.Errorf("approval: choice is not one of the request's options")

// HITLTable is a world's in-memory table of pending human-in-the-loop
// option requests: a mutex-guarded map keyed by request ID, with
// TTL-bounded entries pruned on demand.
type HITLTable struct {
	mu       sync.Mutex
	pending  map[string]*models.HITLRequest
	ttl      time.Duration
}

// DefaultHITLTTL is how long an unanswered HITL request stays pending
// before it's eligible for pruning.
const DefaultHITLTTL = 10 * time.Minute

// NewHITLTable creates an empty table with the default TTL.
func NewHITLTable() *HITLTable {
	return &HITLTable{pending: make(map[string]*models.HITLRequest), ttl: DefaultHITLTTL}
}

// Enqueue creates a new pending request. It requires >=1 option: this
// table is options-only, free-text requests are rejected.
func (t *HITLTable) Enqueue(worldID, prompt string, options []string, metadata map[string]any) (*models.HITLRequest, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("approval: hitl_request requires at least one option")
	}

	now := time.Now()
	req := &models.HITLRequest{
		RequestID: uuid.NewString(),
		WorldID:   worldID,
		Prompt:    prompt,
		Options:   append([]string(nil), options...),
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(t.ttl),
		Pending:   true,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[req.RequestID] = req
	return req, nil
}

// Get returns the pending request by ID, or ErrNotFound.
func (t *HITLTable) Get(requestID string) (*models.HITLRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.pending[requestID]
	if !ok || !req.Pending {
		return nil, ErrNotFound
	}
	return req, nil
}

// Resolve records choice against requestID, validates it is one of the
// request's options, marks the entry no longer pending, and returns the
// resolved request so the caller can check RefreshAfterDismiss.
func (t *HITLTable) Resolve(requestID, choice string) (*models.HITLRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[requestID]
	if !ok || !req.Pending {
		return nil, ErrNotFound
	}
	valid := false
	for _, opt := range req.Options {
		if opt == choice {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidChoice
	}

	req.Choice = choice
	req.Pending = false
	return req, nil
}

// Prune removes resolved entries and pending entries past their TTL.
// Returns the number of entries removed.
func (t *HITLTable) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, req := range t.pending {
		if !req.Pending || now.After(req.ExpiresAt) {
			delete(t.pending, id)
			removed++
		}
	}
	return removed
}
