package manager

import (
	"context"
	"time"

	"github.com/agentworld/runtime/pkg/models"
)

// ListAgents implements internal/orchestrator.WorldProvider.
func (m *Manager) ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID, ok := m.agents[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*models.Agent, 0, len(byID))
	for _, a := range byID {
		out = append(out, cloneAgent(a))
	}
	return out, nil
}

// GetAgent returns one agent by ID.
func (m *Manager) GetAgent(ctx context.Context, worldID, agentID string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID, ok := m.agents[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	a, ok := byID[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(a), nil
}

// CreateAgent implements internal/tools.AgentCreator: it slugifies name
// into an ID unique within worldID, inherits the world's default LLM
// provider/model and turn limit, and registers the agent. Returns the
// generated agent ID.
func (m *Manager) CreateAgent(ctx context.Context, worldID, name, systemPrompt string, autoReply bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	world, ok := m.worlds[worldID]
	if !ok {
		return "", ErrNotFound
	}
	byID, ok := m.agents[worldID]
	if !ok {
		byID = make(map[string]*models.Agent)
		m.agents[worldID] = byID
	}

	taken := make(map[string]bool, len(byID))
	for id := range byID {
		taken[id] = true
	}
	id := m.uniqueSlug(taken, name)

	agent := &models.Agent{
		ID:           id,
		Name:         name,
		Provider:     world.ChatLLMProvider,
		Model:        world.ChatLLMModel,
		SystemPrompt: systemPrompt,
		AutoReply:    autoReply,
		WorldID:      worldID,
		CreatedAt:    time.Now(),
	}
	byID[id] = agent

	m.bus.PublishWorldRefresh(ctx, worldID, "agent", id, "created")
	return id, nil
}

// DefaultMentionTarget implements internal/tools.AgentCreator: when
// create_agent's caller didn't name a target, a newly created agent
// addresses its replies to the fixed id "user", for every world and chat.
// It does not look up who sent the message that triggered the call, and
// human messages dispatched over HTTP without a sender carry "human".
func (m *Manager) DefaultMentionTarget(ctx context.Context, worldID, chatID string) (string, error) {
	return "user", nil
}

// NotifyAgentCreated implements internal/tools.AgentCreator: a CRUD-
// refresh notice is sufficient since CreateAgent already emitted one;
// this hook exists for callers that create an agent outside that path
// (e.g. a future admin API) and still need clients to pick it up.
func (m *Manager) NotifyAgentCreated(ctx context.Context, worldID, agentID string) error {
	m.bus.PublishWorldRefresh(ctx, worldID, "agent", agentID, "created")
	return nil
}

// UpdateAgent applies mutate to the stored agent and publishes a refresh
// notice.
func (m *Manager) UpdateAgent(ctx context.Context, worldID, agentID string, mutate func(agent *models.Agent)) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.agents[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	agent, ok := byID[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(agent)
	m.bus.PublishWorldRefresh(ctx, worldID, "agent", agentID, "updated")
	return cloneAgent(agent), nil
}

// DeleteAgent removes agentID from worldID's registry.
func (m *Manager) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.agents[worldID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byID[agentID]; !ok {
		return ErrNotFound
	}
	delete(byID, agentID)
	m.bus.PublishWorldRefresh(ctx, worldID, "agent", agentID, "deleted")
	return nil
}

func cloneAgent(a *models.Agent) *models.Agent {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}
