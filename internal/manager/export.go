package manager

import (
	"context"
	"fmt"
	"sort"

	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/pkg/models"
)

// ErrAlreadyExists is returned by ImportWorld when the snapshot's world ID
// is already registered.
var ErrAlreadyExists = fmt.Errorf("manager: already exists")

// WorldExport is a self-contained snapshot of one world: its definition,
// agents, chats, and full event log. Agents, chats, and events are in
// deterministic order (ID order for the registries, Seq order for events)
// so two exports of the same world compare equal.
type WorldExport struct {
	World  *models.World         `json:"world"`
	Agents []*models.Agent       `json:"agents"`
	Chats  []*models.Chat        `json:"chats"`
	Events []*models.StoredEvent `json:"events"`
}

// ExportWorld snapshots worldID for transfer into another runtime.
func (m *Manager) ExportWorld(ctx context.Context, worldID string) (*WorldExport, error) {
	m.mu.RLock()
	world, ok := m.worlds[worldID]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrNotFound
	}
	export := &WorldExport{World: cloneWorld(world)}
	for _, a := range m.agents[worldID] {
		export.Agents = append(export.Agents, cloneAgent(a))
	}
	for _, c := range m.chats[worldID] {
		export.Chats = append(export.Chats, cloneChat(c))
	}
	m.mu.RUnlock()

	sort.Slice(export.Agents, func(i, j int) bool { return export.Agents[i].ID < export.Agents[j].ID })
	sort.Slice(export.Chats, func(i, j int) bool { return export.Chats[i].ID < export.Chats[j].ID })

	events, err := m.store.GetEvents(ctx, worldID, store.GetEventsOptions{})
	if err != nil {
		return nil, fmt.Errorf("manager: export events: %w", err)
	}
	export.Events = events
	return export, nil
}

// ImportWorld registers export's world, agents, and chats and replays its
// event log into the store, preserving every ID and sequence number. The
// event write is all-or-nothing: a store failure unregisters everything
// this call added, so a half-imported world is never left behind.
func (m *Manager) ImportWorld(ctx context.Context, export *WorldExport) (*models.World, error) {
	if export == nil || export.World == nil || export.World.ID == "" {
		return nil, fmt.Errorf("manager: import requires a world with an ID")
	}
	worldID := export.World.ID

	m.mu.Lock()
	if _, taken := m.worlds[worldID]; taken {
		m.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	m.worlds[worldID] = cloneWorld(export.World)
	agents := make(map[string]*models.Agent, len(export.Agents))
	for _, a := range export.Agents {
		cp := cloneAgent(a)
		cp.WorldID = worldID
		agents[cp.ID] = cp
	}
	m.agents[worldID] = agents
	chats := make(map[string]*models.Chat, len(export.Chats))
	for _, c := range export.Chats {
		cp := cloneChat(c)
		cp.WorldID = worldID
		chats[cp.ID] = cp
	}
	m.chats[worldID] = chats
	m.mu.Unlock()

	var maxSeq uint64
	events := make([]*models.StoredEvent, 0, len(export.Events))
	for _, e := range export.Events {
		cp := *e
		cp.WorldID = worldID
		events = append(events, &cp)
		if cp.Seq > maxSeq {
			maxSeq = cp.Seq
		}
	}
	if len(events) > 0 {
		if err := m.store.SaveEvents(ctx, worldID, events); err != nil {
			m.mu.Lock()
			delete(m.worlds, worldID)
			delete(m.agents, worldID)
			delete(m.chats, worldID)
			m.mu.Unlock()
			return nil, fmt.Errorf("manager: import events: %w", err)
		}
		m.bus.EnsureSeqAtLeast(worldID, maxSeq)
	}

	m.bus.PublishWorldRefresh(ctx, worldID, "world", worldID, "created")
	return m.GetWorld(ctx, worldID)
}
