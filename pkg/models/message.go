package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type in the LLM-facing conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Direction classifies who sent a message event relative to who receives it.
type Direction string

const (
	DirectionHumanToAgent Direction = "human->agent"
	DirectionAgentToAgent Direction = "agent->agent"
	DirectionAgentToHuman Direction = "agent->human"
	DirectionSystem       Direction = "system"
)

// EventType discriminates rows in the event store.
type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeSSE     EventType = "sse"
	EventTypeSystem  EventType = "system"
	EventTypeTool    EventType = "tool"
)

// ToolCall is an LLM's request to execute a function, embedded in assistant
// messages.
type ToolCall struct {
	ID   string `json:"id"`
	Type string `json:"type"` // always "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the function payload of a ToolCall.
type ToolCallFunction struct {
	Name string `json:"name"`
	// Arguments is either a JSON string or a JSON object/array, mirroring
	// the provider wire format.
	Arguments json.RawMessage `json:"arguments"`
}

// IsClientSide reports whether this call must be answered by the client
// rather than executed in-process.
func (f ToolCallFunction) IsClientSide() bool {
	return len(f.Name) >= len("client.") && f.Name[:len("client.")] == "client."
}

// Metadata is the required per-message-event metadata block.
type Metadata struct {
	OwnerAgentIDs     []string  `json:"owner_agent_ids,omitempty"`
	RecipientAgentID  string    `json:"recipient_agent_id,omitempty"`
	Direction         Direction `json:"direction"`
	IsMemoryOnly      bool      `json:"is_memory_only"`
	IsCrossAgent      bool      `json:"is_cross_agent"`
	ThreadRootID      string    `json:"thread_root_id,omitempty"`
	ThreadDepth       int       `json:"thread_depth"`
	HasToolCalls      bool      `json:"has_tool_calls"`
}

// StoredEvent is the append-only record persisted by internal/store.
type StoredEvent struct {
	ID        string    `json:"id"`
	WorldID   string    `json:"world_id"`
	ChatID    string    `json:"chat_id,omitempty"` // empty = "no chat"
	Type      EventType `json:"type"`
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`

	// Message-only fields.
	MessageID         string     `json:"message_id,omitempty"`
	Sender            string     `json:"sender,omitempty"`
	Role              Role       `json:"role,omitempty"`
	Content           string     `json:"content,omitempty"`
	ReplyToMessageID  string     `json:"reply_to_message_id,omitempty"`
	ToolCalls         []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID        string     `json:"tool_call_id,omitempty"`
	Metadata          *Metadata  `json:"metadata,omitempty"`

	// System-event fields (type=system).
	SystemLevel    string `json:"system_level,omitempty"`
	SystemCategory string `json:"system_category,omitempty"`
}

// HasToolCalls reports whether this event carries a non-empty tool_calls
// array.
func (e *StoredEvent) HasToolCalls() bool {
	return e != nil && len(e.ToolCalls) > 0
}

// IsStdoutCapture reports whether this is a persisted stdout-capture
// artifact (messageId suffix "-stdout"), which is dropped from
// relevance filtering.
func (e *StoredEvent) IsStdoutCapture() bool {
	const suffix = "-stdout"
	id := e.MessageID
	return len(id) > len(suffix) && id[len(id)-len(suffix):] == suffix
}
