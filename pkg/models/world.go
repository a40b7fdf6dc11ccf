// Package models provides the domain types shared across the Agent-World
// runtime: worlds, agents, chats, events, tool calls, and approvals.
package models

import "time"

// World is a container bundling agents, chats, an event log, and runtime
// state. A World is the unit of isolation: no mutable state is shared
// between worlds at the core layer (see internal/manager.Manager).
type World struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// TurnLimit is the default llmCallLimit for agents created in this
	// world. Zero means DefaultTurnLimit.
	TurnLimit int `json:"turn_limit"`

	// ChatLLMProvider/ChatLLMModel are the defaults assigned to new agents.
	ChatLLMProvider string `json:"chat_llm_provider,omitempty"`
	ChatLLMModel    string `json:"chat_llm_model,omitempty"`

	CurrentChatID string `json:"current_chat_id,omitempty"`

	// Variables is free-form env-text, including working_directory which
	// scopes the shell_cmd tool.
	Variables map[string]string `json:"variables,omitempty"`

	// MCPConfig lists external MCP tool servers this world exposes to its
	// agents.
	MCPConfig []MCPServerConfig `json:"mcp_config,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTurnLimit is used when a World does not set TurnLimit explicitly.
const DefaultTurnLimit = 5

// WorkingDirectory returns world.variables.working_directory, defaulting
// to "./".
func (w *World) WorkingDirectory() string {
	if w == nil || w.Variables == nil {
		return "./"
	}
	if dir, ok := w.Variables["working_directory"]; ok && dir != "" {
		return dir
	}
	return "./"
}

// EffectiveTurnLimit returns TurnLimit or DefaultTurnLimit if unset.
func (w *World) EffectiveTurnLimit() int {
	if w == nil || w.TurnLimit <= 0 {
		return DefaultTurnLimit
	}
	return w.TurnLimit
}

// MCPServerConfig describes an external MCP tool source registered on a
// world. Transport details are abstracted behind internal/tools/mcp.
type MCPServerConfig struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"` // "stdio" | "http"
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Agent is a conversational participant in a world.
type Agent struct {
	ID           string `json:"id"` // slug of Name, lowercase
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`

	// AutoReply, when false, means the agent only responds to an explicit
	// @mention. Defaults to true.
	AutoReply bool `json:"auto_reply"`

	// LLMCallLimit is the agent-level limit on LLM calls per chat; the call
	// count itself is derived from stored events, not kept on the agent.
	// Zero means world.EffectiveTurnLimit().
	LLMCallLimit int `json:"llm_call_limit,omitempty"`

	WorldID   string    `json:"world_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EffectiveLLMCallLimit returns a.LLMCallLimit, defaulting to the world's
// turn limit when unset.
func (a *Agent) EffectiveLLMCallLimit(world *World) int {
	if a != nil && a.LLMCallLimit > 0 {
		return a.LLMCallLimit
	}
	return world.EffectiveTurnLimit()
}

// Chat is a named timeline within a world, scoping events and approvals.
type Chat struct {
	ID           string    `json:"id"`
	WorldID      string    `json:"world_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
