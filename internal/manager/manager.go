// Package manager implements World/Agent/Chat CRUD against an in-memory
// registry backed by the durable event store: a mutex-guarded map store
// with clone-on-read/write semantics, uuid-generated IDs, and
// PublishWorldRefresh notices for every mutation, so connected clients can
// reload list state without a full message replay.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld/runtime/internal/approval"
	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/pkg/models"
)

// ErrNotFound is returned when a world, agent, or chat ID has no match.
var ErrNotFound = fmt.Errorf("manager: not found")

// Dispatcher is the subset of internal/orchestrator.Orchestrator the
// manager needs to resubmit an edited message. Redefined locally rather
// than imported, mirroring internal/orchestrator.WorldProvider's own
// redefinition of the manager surface it needs: orchestrator never
// imports this package, so the dependency only runs one way.
type Dispatcher interface {
	Dispatch(ctx context.Context, worldID string, event *models.StoredEvent) error
}

// Manager owns every world's World/Agent/Chat registry and the event
// store/bus that back it. One Manager serves every world in a process.
type Manager struct {
	bus      *eventbus.Bus
	store    store.EventStore
	hitl     *approval.HITLTable
	dispatch Dispatcher

	mu     sync.RWMutex
	worlds map[string]*models.World
	agents map[string]map[string]*models.Agent // worldID -> agentID -> Agent
	chats  map[string]map[string]*models.Chat  // worldID -> chatID -> Chat
}

// New creates an empty Manager. dispatch is used by EditUserMessage to
// resubmit a truncated chat's edited tail; it may be nil if the caller
// never needs that operation (e.g. a read-only admin tool).
func New(bus *eventbus.Bus, es store.EventStore, hitl *approval.HITLTable, dispatch Dispatcher) *Manager {
	return &Manager{
		bus:      bus,
		store:    es,
		hitl:     hitl,
		dispatch: dispatch,
		worlds:   make(map[string]*models.World),
		agents:   make(map[string]map[string]*models.Agent),
		chats:    make(map[string]map[string]*models.Chat),
	}
}

// SetDispatcher wires dispatch after construction, for callers that must
// build the Manager and the Dispatcher it resubmits through in the same
// breath (internal/orchestrator.Orchestrator takes a WorldProvider at
// construction too, so one of the two has to be built first with the
// circular reference filled in afterward).
func (m *Manager) SetDispatcher(dispatch Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch = dispatch
}

// CreateWorld registers a new world with a slugified ID and one default
// chat named "main", so a freshly created world is immediately usable.
func (m *Manager) CreateWorld(ctx context.Context, name, description string) (*models.World, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.uniqueSlug(m.worldIDs(), name)
	now := time.Now()
	world := &models.World{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	chat := &models.Chat{ID: uuid.NewString(), WorldID: id, Name: "main", CreatedAt: now, UpdatedAt: now}
	world.CurrentChatID = chat.ID

	m.worlds[id] = world
	m.agents[id] = make(map[string]*models.Agent)
	m.chats[id] = map[string]*models.Chat{chat.ID: chat}

	m.bus.PublishWorldRefresh(ctx, id, "world", id, "created")
	return cloneWorld(world), nil
}

// GetWorld implements internal/orchestrator.WorldProvider.
func (m *Manager) GetWorld(ctx context.Context, worldID string) (*models.World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	world, ok := m.worlds[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWorld(world), nil
}

// ListWorlds returns every registered world, unordered.
func (m *Manager) ListWorlds(ctx context.Context) ([]*models.World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.World, 0, len(m.worlds))
	for _, w := range m.worlds {
		out = append(out, cloneWorld(w))
	}
	return out, nil
}

// UpdateWorld applies mutate to the stored world under lock and publishes
// a refresh notice. mutate must not retain a reference to world beyond
// the call.
func (m *Manager) UpdateWorld(ctx context.Context, worldID string, mutate func(world *models.World)) (*models.World, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	world, ok := m.worlds[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(world)
	world.UpdatedAt = time.Now()
	m.bus.PublishWorldRefresh(ctx, worldID, "world", worldID, "updated")
	return cloneWorld(world), nil
}

// DeleteWorld removes worldID and every agent/chat registered under it.
// Event store rows are left in place: they're addressed by worldID and
// simply become unreachable, matching the store's append-only contract.
func (m *Manager) DeleteWorld(ctx context.Context, worldID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.worlds[worldID]; !ok {
		return ErrNotFound
	}
	delete(m.worlds, worldID)
	delete(m.agents, worldID)
	delete(m.chats, worldID)
	m.bus.PublishWorldRefresh(ctx, worldID, "world", worldID, "deleted")
	return nil
}

func (m *Manager) worldIDs() map[string]bool {
	ids := make(map[string]bool, len(m.worlds))
	for id := range m.worlds {
		ids[id] = true
	}
	return ids
}

func cloneWorld(w *models.World) *models.World {
	if w == nil {
		return nil
	}
	clone := *w
	if w.Variables != nil {
		clone.Variables = make(map[string]string, len(w.Variables))
		for k, v := range w.Variables {
			clone.Variables[k] = v
		}
	}
	if w.MCPConfig != nil {
		clone.MCPConfig = append([]models.MCPServerConfig(nil), w.MCPConfig...)
	}
	return &clone
}
