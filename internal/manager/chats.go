package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/pkg/models"
)

// CreateChat registers a new chat timeline within worldID.
func (m *Manager) CreateChat(ctx context.Context, worldID, name, description string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.worlds[worldID]; !ok {
		return nil, ErrNotFound
	}
	byID, ok := m.chats[worldID]
	if !ok {
		byID = make(map[string]*models.Chat)
		m.chats[worldID] = byID
	}

	now := time.Now()
	chat := &models.Chat{
		ID:          uuid.NewString(),
		WorldID:     worldID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	byID[chat.ID] = chat

	m.bus.PublishWorldRefresh(ctx, worldID, "chat", chat.ID, "created")
	return cloneChat(chat), nil
}

// GetChat returns one chat by ID.
func (m *Manager) GetChat(ctx context.Context, worldID, chatID string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID, ok := m.chats[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	chat, ok := byID[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChat(chat), nil
}

// ListChats returns every chat registered under worldID.
func (m *Manager) ListChats(ctx context.Context, worldID string) ([]*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID, ok := m.chats[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*models.Chat, 0, len(byID))
	for _, c := range byID {
		out = append(out, cloneChat(c))
	}
	return out, nil
}

// UpdateChat applies mutate to the stored chat and publishes a refresh
// notice.
func (m *Manager) UpdateChat(ctx context.Context, worldID, chatID string, mutate func(chat *models.Chat)) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.chats[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	chat, ok := byID[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(chat)
	chat.UpdatedAt = time.Now()
	m.bus.PublishWorldRefresh(ctx, worldID, "chat", chatID, "updated")
	return cloneChat(chat), nil
}

// DeleteChat removes chatID's registry entry. Its event rows stay in the
// store, unreachable through the registry but not erased, matching
// DeleteWorld's append-only contract.
func (m *Manager) DeleteChat(ctx context.Context, worldID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.chats[worldID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byID[chatID]; !ok {
		return ErrNotFound
	}
	delete(byID, chatID)
	m.bus.PublishWorldRefresh(ctx, worldID, "chat", chatID, "deleted")
	return nil
}

// BranchChat copies sourceChatID's events up to and including messageID
// into a newly registered chat, so exploring an alternate continuation
// never disturbs the original timeline.
func (m *Manager) BranchChat(ctx context.Context, worldID, sourceChatID, messageID, newName string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sourceByID, ok := m.chats[worldID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, ok := sourceByID[sourceChatID]; !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	branch := &models.Chat{
		ID:        uuid.NewString(),
		WorldID:   worldID,
		Name:      newName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.BranchChatFromMessage(ctx, worldID, sourceChatID, messageID, branch.ID); err != nil {
		return nil, fmt.Errorf("manager: branch chat: %w", err)
	}
	sourceByID[branch.ID] = branch

	// The branched rows carry store-assigned sequence numbers past the
	// bus's counter; sync it so the next published event doesn't collide.
	if branched, err := m.store.GetEvents(ctx, worldID, store.GetEventsOptions{ChatID: branch.ID}); err == nil && len(branched) > 0 {
		m.bus.EnsureSeqAtLeast(worldID, branched[len(branched)-1].Seq)
	}

	m.bus.PublishWorldRefresh(ctx, worldID, "chat", branch.ID, "created")
	return cloneChat(branch), nil
}

// EditUserMessage truncates chatID from messageID onward (inclusive) and,
// if a Dispatcher was configured, resubmits newContent as a fresh
// human-to-agent message in its place. This is the only supported way to
// edit history: the event store is append-only, so an edit is always a
// truncate-then-resubmit rather than an in-place mutation.
func (m *Manager) EditUserMessage(ctx context.Context, worldID, chatID, messageID, newContent string) error {
	if err := m.store.RemoveEventsFrom(ctx, worldID, chatID, messageID); err != nil {
		return fmt.Errorf("manager: truncate chat: %w", err)
	}
	m.bus.PublishWorldRefresh(ctx, worldID, "chat", chatID, "updated")

	if m.dispatch == nil {
		return nil
	}
	event := &models.StoredEvent{
		ChatID:  chatID,
		Role:    models.RoleUser,
		Sender:  "user",
		Content: newContent,
		Metadata: &models.Metadata{Direction: models.DirectionHumanToAgent},
	}
	if err := m.dispatch.Dispatch(ctx, worldID, event); err != nil {
		return fmt.Errorf("manager: resubmit edited message: %w", err)
	}
	return nil
}

func cloneChat(c *models.Chat) *models.Chat {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
