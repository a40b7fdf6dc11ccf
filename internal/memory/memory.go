// Package memory implements per-agent conversation memory: the append
// path that fans one message event out to every agent who owns it, and
// the filter path that shapes an agent's memory into LLM-ready context
package memory

import (
	"context"
	"fmt"

	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/pkg/models"
)

// Ownership reports how one agent relates to an incoming event under the
// should-agent-respond rules: whether the event lands in its memory at
// all, and whether the agent will actually respond (false for the
// memory-only rules). The memory manager doesn't implement those rules
// itself — internal/orchestrator does — to avoid a
// memory->orchestrator->memory import cycle; Append takes the
// classifier as a dependency instead.
type Ownership struct {
	Owns     bool
	Responds bool
}

// OwnershipFunc classifies one agent against one event.
type OwnershipFunc func(agent *models.Agent, event *models.StoredEvent) Ownership

// EventStore is the subset of internal/store.EventStore memory needs.
type EventStore interface {
	SaveEvent(ctx context.Context, worldID string, event *models.StoredEvent) error
	GetEvents(ctx context.Context, worldID string, opts store.GetEventsOptions) ([]*models.StoredEvent, error)
}

// Manager computes per-agent memory views over a world's event log.
//
// Grounded on internal/sessions/scoping.go (BuildKey's per-owner key
// idiom, generalized from session-scoping to owner-agent-id tagging) and
// internal/sessions/transcript_repair.go (RepairToolCallPairing's two-pass
// assistant/tool scan, generalized into filterClientSideMessages).
type Manager struct {
	store EventStore
}

// New creates a Manager backed by store.
func New(store EventStore) *Manager {
	return &Manager{store: store}
}

// Append computes ownerAgentIds for event (recipient, if any, plus every
// agent the classifier marks as owning) and appends one stored-message row
// per owner, with role inferred from direction and isMemoryOnly set per
// owner. Each owner appears once in the owner list, so one call writes at
// most one row per (ownerAgentId, messageId); Append does not look for
// rows already in the store.
func (m *Manager) Append(ctx context.Context, worldID string, event *models.StoredEvent, agents []*models.Agent, classify OwnershipFunc) error {
	if event.Metadata == nil {
		return fmt.Errorf("memory: append requires metadata")
	}

	owners, responds := ownerSet(event, agents, classify)
	event.Metadata.OwnerAgentIDs = owners

	// No agent owns this event (e.g. a human message in a world whose
	// agents all declined it): still record it once in the world log, with
	// an empty owner list, so the timeline and idempotency checks see it.
	if len(owners) == 0 {
		row := *event
		md := *event.Metadata
		md.OwnerAgentIDs = nil
		row.Metadata = &md
		if err := m.store.SaveEvent(ctx, worldID, &row); err != nil {
			return fmt.Errorf("memory: append unowned event: %w", err)
		}
		return nil
	}

	for _, ownerID := range owners {
		row := *event
		row.Role = inferRole(event.Metadata.Direction, ownerID, event.Sender, event.Role)
		md := *event.Metadata
		md.OwnerAgentIDs = []string{ownerID}
		// Memory-only from this owner's point of view: the message landed
		// in its memory without triggering a reply. An agent's copy of its
		// own outgoing message is never memory-only.
		md.IsMemoryOnly = ownerID != event.Sender && !responds[ownerID]
		row.Metadata = &md
		if err := m.store.SaveEvent(ctx, worldID, &row); err != nil {
			return fmt.Errorf("memory: append for owner %s: %w", ownerID, err)
		}
	}
	return nil
}

func ownerSet(event *models.StoredEvent, agents []*models.Agent, classify OwnershipFunc) ([]string, map[string]bool) {
	seen := make(map[string]bool)
	responds := make(map[string]bool)
	var owners []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		owners = append(owners, id)
	}

	add(event.Metadata.RecipientAgentID)
	for _, agent := range agents {
		if classify == nil {
			continue
		}
		verdict := classify(agent, event)
		if verdict.Owns {
			add(agent.ID)
		}
		if verdict.Responds {
			responds[agent.ID] = true
		}
	}
	return owners, responds
}

// inferRole maps a message's direction, relative to ownerID, to the role
// the LLM sees it under. The sender's own copy of its reply is always
// assistant; everyone else reads another agent's words as user input.
// Turn-internal rows (tool results, approval-request messages) arrive
// with DirectionSystem and keep the role the orchestrator stored.
func inferRole(dir models.Direction, ownerID, sender string, explicit models.Role) models.Role {
	switch dir {
	case models.DirectionHumanToAgent:
		return models.RoleUser
	case models.DirectionAgentToAgent, models.DirectionAgentToHuman:
		if sender == ownerID {
			return models.RoleAssistant
		}
		return models.RoleUser
	default:
		if explicit != "" {
			return explicit
		}
		return models.RoleSystem
	}
}

// ForContext returns agentID's memory for chatID, filtered through
// filterClientSideMessages and with stdout-capture artifacts dropped.
// Use this to build the message list handed to the LLM.
func (m *Manager) ForContext(ctx context.Context, worldID, chatID, agentID string) ([]*models.StoredEvent, error) {
	owned, err := m.RawOwned(ctx, worldID, chatID, agentID)
	if err != nil {
		return nil, err
	}
	return filterClientSideMessages(owned), nil
}

// RawOwned returns agentID's memory for chatID without the
// filterClientSideMessages pass, so that callers reconstructing state
// from the client.* round-trip itself (internal/approval's chat scan)
// can still see it.
func (m *Manager) RawOwned(ctx context.Context, worldID, chatID, agentID string) ([]*models.StoredEvent, error) {
	events, err := m.store.GetEvents(ctx, worldID, store.GetEventsOptions{
		ChatID:  chatID,
		Filters: &store.MetadataFilter{OwnerAgentID: agentID},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: load context: %w", err)
	}

	owned := events[:0:0]
	for _, e := range events {
		if e.IsStdoutCapture() {
			continue
		}
		owned = append(owned, e)
	}
	return owned, nil
}

// filterClientSideMessages runs a two-pass filter over an agent's owned
// events: drop client.* tool calls from assistant messages (and the whole
// message if nothing remains), then drop any tool message that references a
// removed, missing, or unknown tool_call_id.
func filterClientSideMessages(events []*models.StoredEvent) []*models.StoredEvent {
	removedToolCallIDs := make(map[string]bool)
	validToolCallIDs := make(map[string]bool)

	// Pass 1: strip client.* entries from assistant tool_calls.
	pass1 := make([]*models.StoredEvent, 0, len(events))
	for _, e := range events {
		if e.Role != models.RoleAssistant || !e.HasToolCalls() {
			pass1 = append(pass1, e)
			continue
		}

		kept := make([]models.ToolCall, 0, len(e.ToolCalls))
		for _, tc := range e.ToolCalls {
			if tc.Function.IsClientSide() {
				removedToolCallIDs[tc.ID] = true
				continue
			}
			validToolCallIDs[tc.ID] = true
			kept = append(kept, tc)
		}

		if len(kept) == 0 && e.Content == "" {
			continue // whole assistant message carried nothing but client.* calls
		}
		cp := *e
		cp.ToolCalls = kept
		pass1 = append(pass1, &cp)
	}

	// Pass 2: drop tool messages that don't resolve to a kept assistant call.
	pass2 := make([]*models.StoredEvent, 0, len(pass1))
	for _, e := range pass1 {
		if e.Role == models.RoleTool {
			if e.ToolCallID == "" || removedToolCallIDs[e.ToolCallID] || !validToolCallIDs[e.ToolCallID] {
				continue
			}
		}
		pass2 = append(pass2, e)
	}
	return pass2
}

// ThreadRoot walks event's replyToMessageId chain up to 100 hops to find
// the root of its reply DAG, aborting on a revisited message (circular
// ref) and falling back to the event's own id.
func ThreadRoot(event *models.StoredEvent, byMessageID map[string]*models.StoredEvent) (string, int) {
	const maxHops = 100
	visited := map[string]bool{event.MessageID: true}
	current := event
	depth := 0

	for depth < maxHops {
		if current.ReplyToMessageID == "" {
			return current.MessageID, depth
		}
		if visited[current.ReplyToMessageID] {
			return event.MessageID, 0 // circular ref: fall back to self
		}
		parent, ok := byMessageID[current.ReplyToMessageID]
		if !ok {
			return current.ReplyToMessageID, depth + 1
		}
		visited[parent.MessageID] = true
		current = parent
		depth++
	}
	return event.MessageID, 0
}
