// Package store implements the append-only event log that backs every
// world: all message, system, and tool rows persisted by internal/eventbus
// flow through an EventStore, ordered by per-world monotonic sequence
// number.
package store

import (
	"context"
	"errors"

	"github.com/agentworld/runtime/pkg/models"
)

// Sentinel errors, extended with the conflict/validation cases the
// store's branch/truncate operations need.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrConflict      = errors.New("store: conflict")
)

// EventStore is the append-only persistence interface for a world's event
// log. Implementations must preserve insertion order within a world and
// never reuse a sequence number: Seq is strictly increasing per world.
type EventStore interface {
	// SaveEvent appends a single event. event.Seq must already be set by
	// the caller (internal/eventbus assigns it before calling this).
	SaveEvent(ctx context.Context, worldID string, event *models.StoredEvent) error

	// SaveEvents appends a batch atomically from the caller's perspective:
	// either all events become visible to GetEvents or none do.
	SaveEvents(ctx context.Context, worldID string, events []*models.StoredEvent) error

	// GetEvents returns events for worldID, optionally scoped to a chat,
	// ordered by Seq ascending.
	GetEvents(ctx context.Context, worldID string, opts GetEventsOptions) ([]*models.StoredEvent, error)

	// RemoveEventsFrom deletes every event in chatID with Seq >= the Seq of
	// the event identified by messageID, inclusive. Used by
	// editUserMessage / truncate-from-message.
	RemoveEventsFrom(ctx context.Context, worldID, chatID, messageID string) error

	// BranchChatFromMessage copies every event in sourceChatID up to and
	// including messageID into a new chat newChatID, preserving relative
	// order but assigning fresh sequence numbers.
	BranchChatFromMessage(ctx context.Context, worldID, sourceChatID, messageID, newChatID string) error

	// Close releases any underlying resources (DB handles, file locks).
	Close() error
}

// GetEventsOptions filters and paginates GetEvents.
type GetEventsOptions struct {
	ChatID  string // empty = all chats in the world
	Types   []models.EventType
	Since   uint64 // exclusive: only events with Seq > Since
	Limit   int    // 0 = unlimited
	Filters *MetadataFilter
}

// MetadataFilter holds the metadata predicates GetEvents supports. Zero
// values match everything; the *bool fields are tri-state so callers can
// ask for "explicitly false" as well as "explicitly true".
type MetadataFilter struct {
	OwnerAgentID     string
	RecipientAgentID string
	ThreadRootID     string
	HasToolCalls     *bool
	IsMemoryOnly     *bool
	IsCrossAgent     *bool
}

// Match reports whether e's metadata satisfies every set predicate.
// Events without a metadata block only match a zero filter.
func (f *MetadataFilter) Match(e *models.StoredEvent) bool {
	if f == nil {
		return true
	}
	m := e.Metadata
	if m == nil {
		return *f == MetadataFilter{}
	}
	if f.OwnerAgentID != "" && !containsString(m.OwnerAgentIDs, f.OwnerAgentID) {
		return false
	}
	if f.RecipientAgentID != "" && m.RecipientAgentID != f.RecipientAgentID {
		return false
	}
	if f.ThreadRootID != "" && m.ThreadRootID != f.ThreadRootID {
		return false
	}
	if f.HasToolCalls != nil && m.HasToolCalls != *f.HasToolCalls {
		return false
	}
	if f.IsMemoryOnly != nil && m.IsMemoryOnly != *f.IsMemoryOnly {
		return false
	}
	if f.IsCrossAgent != nil && m.IsCrossAgent != *f.IsCrossAgent {
		return false
	}
	return true
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func matchesTypes(t models.EventType, types []models.EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}
