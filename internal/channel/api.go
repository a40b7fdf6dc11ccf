package channel

import (
	"context"

	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/pkg/models"
)

// APIChannel delivers agent output over the event bus that backs the
// built-in HTTP/SSE/websocket surface: Send persists an agent-role
// message event, Typing pushes an ephemeral SSE system notice. It is the
// only Channel this tree implements; everything else in this package is
// contract for an adapter that doesn't exist yet.
type APIChannel struct {
	bus     *eventbus.Bus
	worldID string
}

// NewAPIChannel builds the channel that fronts worldID's event bus.
func NewAPIChannel(bus *eventbus.Bus, worldID string) *APIChannel {
	return &APIChannel{bus: bus, worldID: worldID}
}

// Kind implements Channel.
func (c *APIChannel) Kind() string { return "api" }

// Capabilities implements Channel.
func (c *APIChannel) Capabilities() Capabilities {
	return DefaultCapabilities["api"]
}

// Send implements Channel by persisting content as an agent-role message
// event on chatID. messageID is carried through so a client that already
// rendered a streamed version of this reply can reconcile it.
func (c *APIChannel) Send(ctx context.Context, chatID, messageID, content string) error {
	return c.bus.PublishMessage(ctx, c.worldID, &models.StoredEvent{
		ChatID:    chatID,
		MessageID: messageID,
		Role:      models.RoleAssistant,
		Content:   content,
	})
}

// Typing implements Channel by pushing an ephemeral system-category SSE
// notice rather than a persisted event: a typing indicator has no
// replay value once the turn finishes.
func (c *APIChannel) Typing(ctx context.Context, chatID string) error {
	c.bus.PublishSSE(ctx, c.worldID, &models.SSEEvent{
		Type:     models.SSESystem,
		WorldID:  c.worldID,
		ChatID:   chatID,
		Category: "typing",
	})
	return nil
}
