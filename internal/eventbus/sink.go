// Package eventbus implements the in-process publish/subscribe layer that
// fans world events out to the streaming layer, plugins, and any other
// in-process listener. Bus.Publish itself never persists anything;
// PublishMessage and PublishSystem first save the event through the Bus's
// EventStore and fan it out only once that save succeeds, so subscribers
// never observe an event the store could not durably record. SSE deltas
// and world-refresh notices are never persisted.
package eventbus

import (
	"context"
	"sync/atomic"

	"github.com/agentworld/runtime/pkg/models"
)

// Channel names the four logical lanes a Bus multiplexes.
type Channel string

const (
	// ChannelMessage carries persisted message events (chat turns, tool
	// calls and their results).
	ChannelMessage Channel = "message"
	// ChannelSSE carries ephemeral per-turn streaming deltas that are never
	// persisted on their own (chunk/tool-stream SSEEvents).
	ChannelSSE Channel = "sse"
	// ChannelSystem carries persisted system-level notices (errors,
	// warnings, lifecycle notes).
	ChannelSystem Channel = "system"
	// ChannelWorld carries CRUD-refresh notifications (world/agent/chat
	// created, updated, deleted) with no backing store row.
	ChannelWorld Channel = "world"
)

// Envelope is what a Sink receives: a channel tag plus exactly one of the
// three payload shapes the bus moves around.
type Envelope struct {
	Channel Channel
	WorldID string

	Event     *models.StoredEvent // ChannelMessage, ChannelSystem
	SSE       *models.SSEEvent    // ChannelSSE
	WorldRef  string              // ChannelWorld: "world" | "agent" | "chat"
	WorldRefID string
	WorldOp   string              // ChannelWorld: "created" | "updated" | "deleted"
}

// Sink receives envelopes dispatched by a Bus. Implementations must be
// non-blocking or handle their own backpressure; a slow sink must not stall
// publishers.
type Sink interface {
	Emit(ctx context.Context, env Envelope)
}

// NopSink discards everything.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(context.Context, Envelope) {}

// CallbackSink adapts a plain function to the Sink interface.
type CallbackSink struct {
	fn func(ctx context.Context, env Envelope)
}

// NewCallbackSink wraps fn as a Sink.
func NewCallbackSink(fn func(ctx context.Context, env Envelope)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (s *CallbackSink) Emit(ctx context.Context, env Envelope) {
	if s.fn != nil {
		s.fn(ctx, env)
	}
}

// ChanSink sends envelopes to a buffered channel, dropping on a full buffer
// rather than blocking the publisher.
type ChanSink struct {
	ch      chan<- Envelope
	dropped uint64
}

// NewChanSink wraps ch as a Sink. ch should be buffered.
func NewChanSink(ch chan<- Envelope) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends env to the channel, dropping it if the buffer is full or ctx
// is already done.
func (s *ChanSink) Emit(ctx context.Context, env Envelope) {
	select {
	case s.ch <- env:
	case <-ctx.Done():
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// Dropped returns the count of envelopes dropped due to backpressure.
func (s *ChanSink) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// MultiSink fans an envelope out to every wrapped sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink wraps sinks, discarding nil entries.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches env to every wrapped sink in order.
func (m *MultiSink) Emit(ctx context.Context, env Envelope) {
	for _, s := range m.sinks {
		s.Emit(ctx, env)
	}
}
