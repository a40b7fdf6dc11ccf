package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworld/runtime/pkg/models"
)

// MemoryStore is an in-process EventStore: a mutex-guarded map plus
// defensive copies so callers can't mutate store state through a
// returned pointer.
type MemoryStore struct {
	mu      sync.RWMutex
	events  map[string][]*models.StoredEvent // worldID -> events, Seq ascending
	lastSeq map[string]uint64                // worldID -> highest Seq seen
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string][]*models.StoredEvent),
		lastSeq: make(map[string]uint64),
	}
}

func cloneEvent(e *models.StoredEvent) *models.StoredEvent {
	if e == nil {
		return nil
	}
	cp := *e
	if e.ToolCalls != nil {
		cp.ToolCalls = append([]models.ToolCall(nil), e.ToolCalls...)
	}
	if e.Metadata != nil {
		m := *e.Metadata
		if e.Metadata.OwnerAgentIDs != nil {
			m.OwnerAgentIDs = append([]string(nil), e.Metadata.OwnerAgentIDs...)
		}
		cp.Metadata = &m
	}
	return &cp
}

func (s *MemoryStore) SaveEvent(_ context.Context, worldID string, event *models.StoredEvent) error {
	if event == nil {
		return ErrNotFound
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Callers that pre-assign Seq (internal/eventbus) keep theirs; bare
	// events get the next per-world number. A pre-assigned Seq is stored as
	// given even when it repeats one already stored; unlike SQLStore, this
	// store does not reject the repeat.
	if event.Seq == 0 {
		event.Seq = s.lastSeq[worldID] + 1
	}
	if event.Seq > s.lastSeq[worldID] {
		s.lastSeq[worldID] = event.Seq
	}
	s.events[worldID] = append(s.events[worldID], cloneEvent(event))
	return nil
}

func (s *MemoryStore) SaveEvents(_ context.Context, worldID string, events []*models.StoredEvent) error {
	for _, e := range events {
		if e == nil {
			return ErrNotFound
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.Seq == 0 {
			event.Seq = s.lastSeq[worldID] + 1
		}
		if event.Seq > s.lastSeq[worldID] {
			s.lastSeq[worldID] = event.Seq
		}
		s.events[worldID] = append(s.events[worldID], cloneEvent(event))
	}
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, worldID string, opts GetEventsOptions) ([]*models.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[worldID]
	out := make([]*models.StoredEvent, 0, len(all))
	for _, e := range all {
		if opts.ChatID != "" && e.ChatID != opts.ChatID {
			continue
		}
		if e.Seq <= opts.Since {
			continue
		}
		if !matchesTypes(e.Type, opts.Types) {
			continue
		}
		if !opts.Filters.Match(e) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) RemoveEventsFrom(_ context.Context, worldID, chatID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[worldID]
	cutSeq, found := uint64(0), false
	for _, e := range all {
		if e.ChatID == chatID && e.MessageID == messageID {
			cutSeq = e.Seq
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	kept := all[:0:0]
	for _, e := range all {
		if e.ChatID == chatID && e.Seq >= cutSeq {
			continue
		}
		kept = append(kept, e)
	}
	s.events[worldID] = kept
	return nil
}

func (s *MemoryStore) BranchChatFromMessage(_ context.Context, worldID, sourceChatID, messageID, newChatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[worldID]
	var toCopy []*models.StoredEvent
	cutSeq, found := uint64(0), false
	for _, e := range all {
		if e.ChatID != sourceChatID {
			continue
		}
		toCopy = append(toCopy, e)
		if e.MessageID == messageID {
			cutSeq = e.Seq
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	_ = cutSeq

	nextSeq := s.lastSeq[worldID]
	for _, e := range toCopy {
		cp := cloneEvent(e)
		cp.ID = uuid.NewString()
		cp.ChatID = newChatID
		nextSeq++
		cp.Seq = nextSeq
		s.events[worldID] = append(s.events[worldID], cp)
	}
	s.lastSeq[worldID] = nextSeq
	return nil
}

func (s *MemoryStore) Close() error { return nil }
