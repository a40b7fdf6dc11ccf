// Package llm abstracts LLM provider SDKs behind a single streaming
// interface, so internal/orchestrator never imports a provider package
// directly.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agentworld/runtime/pkg/models"
)

// Provider is an LLM backend. Implementations handle the specifics of one
// wire protocol (Anthropic Messages, OpenAI Chat Completions, Bedrock
// Converse) while presenting the same discriminated-union stream to the
// orchestrator.
//
// Exposes a single Stream method rather than separate Models/
// SupportsTools accessors, since callers only ever need the stream.
type Provider interface {
	// Name returns the provider identifier used in agent.provider.
	Name() string

	// Stream sends req and returns a channel of events terminating in
	// exactly one EventEnd or one EventError. The channel is closed when
	// the stream completes, whether normally or due to ctx cancellation.
	Stream(ctx context.Context, req *Request) (<-chan *StreamEvent, error)
}

// Message is one entry of the conversation sent to a provider. Tool
// calls are shaped as {id,type:"function",function:{name,arguments}},
// tool results are {role:"tool",tool_call_id,content}.
type Message struct {
	Role       models.Role      `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// ToolDefinition advertises one callable tool to the provider.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is a single completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// StreamEventType discriminates StreamEvent's three shapes.
type StreamEventType string

const (
	EventChunk     StreamEventType = "chunk"
	EventToolCalls StreamEventType = "tool_calls"
	EventEnd       StreamEventType = "end"
	EventError     StreamEventType = "error"
)

// StreamEvent is one item of the channel Provider.Stream returns:
// `{type:"chunk"|"tool_calls"|"end", ...}` plus an error variant for
// transport failures.
type StreamEvent struct {
	Type StreamEventType

	// EventChunk
	Delta string

	// EventToolCalls
	ToolCalls []models.ToolCall

	// EventEnd
	FinishReason string
	Usage        models.TokenUsage

	// EventError
	Err error
}

// ErrStreamClosed names a provider upstream connection that ends before a
// terminal event was produced. None of the providers in this package
// return or emit it.
var ErrStreamClosed = errors.New("llm: stream closed without a terminal event")

// Registry resolves a Provider by name via a plain map; there is no
// per-channel provider override to juggle.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry from providers, keyed by Provider.Name().
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named provider, or an error if it isn't registered.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, errNotRegistered(name)
	}
	return p, nil
}

type errProviderNotRegistered string

func (e errProviderNotRegistered) Error() string {
	return "llm: provider not registered: " + string(e)
}

func errNotRegistered(name string) error { return errProviderNotRegistered(name) }
