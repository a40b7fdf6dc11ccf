package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/internal/llm"
	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/pkg/models"
)

// RunTurn drives one agent's response to chatID forward: it builds the
// provider request from the agent's owned memory, streams the completion,
// and either dispatches the final reply back through Dispatch (so other
// agents can react to it) or, if the model called a tool, executes the
// tool calls and loops for the follow-up completion.
//
// Each provider.Stream call counts as one LLM call against the agent's
// EffectiveLLMCallLimit; RunTurn re-checks the limit at the top of every
// iteration, not just once at dispatch time, since a single dispatched
// message can trigger many tool-loop iterations.
func (o *Orchestrator) RunTurn(ctx context.Context, world *models.World, agent *models.Agent, chatID string) error {
	tracker := o.TrackerFor(world.ID)
	tracker.Begin()
	defer tracker.End()

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartTurn(ctx, agent.ID)
		defer span.End()
	}

	start := time.Now()
	var turnErr error
	defer func() {
		if o.metrics != nil {
			o.metrics.TurnDuration.WithLabelValues(agent.ID, agent.Provider).Observe(time.Since(start).Seconds())
			if turnErr != nil {
				o.metrics.TurnFailures.WithLabelValues(agent.ID, failureKind(turnErr)).Inc()
			}
		}
	}()

	for iteration := 0; ; iteration++ {
		if iteration >= o.maxToolIterations {
			turnErr = fmt.Errorf("%w: exceeded %d tool iterations", ErrToolExecution, o.maxToolIterations)
			o.emitTurnError(ctx, world.ID, chatID, agent, turnErr)
			return turnErr
		}

		count, err := o.countLLMCalls(ctx, world.ID, chatID, agent.ID)
		if err != nil {
			turnErr = err
			return fmt.Errorf("orchestrator: run turn: %w", err)
		}
		if count >= agent.EffectiveLLMCallLimit(world) {
			// Limit reached mid-loop: stop silently, no further SSE.
			return nil
		}

		// A previous iteration may have parked tool calls behind an
		// approval request; with the decision now in memory, run them
		// before asking the provider for a follow-up completion.
		pending, err := o.pendingToolCalls(ctx, world.ID, chatID, agent.ID)
		if err != nil {
			turnErr = err
			return err
		}
		if len(pending) > 0 {
			paused, err := o.processToolCalls(ctx, world, agent, chatID, pending)
			if err != nil {
				turnErr = err
				return err
			}
			if paused {
				return nil
			}
			continue
		}

		paused, err := o.runOneCompletion(ctx, world, agent, chatID)
		if err != nil {
			turnErr = err
			return err
		}
		if paused {
			return nil
		}
		if o.metrics != nil {
			o.metrics.TurnsStarted.WithLabelValues(agent.ID, string(RuleAccept)).Inc()
		}
	}
}

// runOneCompletion performs exactly one provider.Stream call and its
// immediate aftermath: persisting the assistant message, and either
// dispatching a final reply, executing tool calls, or pausing the turn
// pending an external approval/client-side tool response. paused reports
// whether the turn should stop (true) or loop again for a follow-up
// completion (false).
func (o *Orchestrator) runOneCompletion(ctx context.Context, world *models.World, agent *models.Agent, chatID string) (paused bool, err error) {
	messages, err := BuildMessages(ctx, o.memory, world.ID, chatID, agent.ID)
	if err != nil {
		return false, err
	}
	toolDefs := BuildTools(toolLikeSlice(o.tools.List()))
	systemPrompt := BuildSystemPrompt(agent, o.skills, world.WorkingDirectory())

	req := &llm.Request{
		Model:       agent.Model,
		System:      systemPrompt,
		Messages:    messages,
		Tools:       toolDefs,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	}

	provider, err := o.llm.Get(agent.Provider)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	if !o.disableStreaming {
		o.bus.PublishSSE(ctx, world.ID, &models.SSEEvent{Type: models.SSEStart, WorldID: world.ID, ChatID: chatID, AgentName: agent.Name})
	}

	stream, err := provider.Stream(ctx, req)
	if err != nil {
		o.emitTurnError(ctx, world.ID, chatID, agent, err)
		return false, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	tracker := o.TrackerFor(world.ID)
	var content strings.Builder
	var toolCalls []models.ToolCall
	var usage models.TokenUsage
	var streamErr error

	for ev := range stream {
		switch ev.Type {
		case llm.EventChunk:
			content.WriteString(ev.Delta)
			tracker.Mark()
			if !o.disableStreaming {
				o.bus.PublishSSE(ctx, world.ID, &models.SSEEvent{
					Type: models.SSEChunk, WorldID: world.ID, ChatID: chatID,
					AgentName: agent.Name, Content: ev.Delta,
				})
			}
		case llm.EventToolCalls:
			toolCalls = ev.ToolCalls
		case llm.EventEnd:
			usage = ev.Usage
		case llm.EventError:
			streamErr = ev.Err
		}
	}
	if streamErr != nil {
		o.emitTurnError(ctx, world.ID, chatID, agent, streamErr)
		return false, fmt.Errorf("%w: %v", ErrProviderFailure, streamErr)
	}

	assistant := &models.StoredEvent{
		ChatID:    chatID,
		Type:      models.EventTypeMessage,
		Role:      models.RoleAssistant,
		Sender:    agent.ID,
		Content:   content.String(),
		ToolCalls: toolCalls,
	}

	if len(toolCalls) == 0 {
		assistant.Metadata = &models.Metadata{Direction: outgoingDirection(content.String())}
		if err := o.Dispatch(ctx, world.ID, assistant); err != nil {
			return false, fmt.Errorf("orchestrator: dispatch reply: %w", err)
		}
		o.bus.PublishSSE(ctx, world.ID, &models.SSEEvent{
			Type: models.SSEEnd, WorldID: world.ID, ChatID: chatID,
			AgentName: agent.Name, MessageID: assistant.MessageID, Content: assistant.Content, Usage: &usage,
		})
		return true, nil
	}

	// Turn-internal: this message is owned only by the calling agent, not
	// broadcast through the should-agent-respond rules.
	assistant.Metadata = &models.Metadata{RecipientAgentID: agent.ID, Direction: models.DirectionSystem, HasToolCalls: true}
	stampEvent(assistant, world.ID)
	assistant.Seq = o.bus.NextSeq(world.ID)
	if err := o.memory.Append(ctx, world.ID, assistant, nil, nil); err != nil {
		return false, fmt.Errorf("orchestrator: persist tool-call message: %w", err)
	}
	o.bus.Publish(ctx, eventbus.Envelope{Channel: eventbus.ChannelMessage, WorldID: world.ID, Event: assistant})

	o.bus.PublishSSE(ctx, world.ID, &models.SSEEvent{
		Type: models.SSEEnd, WorldID: world.ID, ChatID: chatID, AgentName: agent.Name,
		MessageID: assistant.MessageID, Content: assistant.Content, Usage: &usage,
	})

	return o.processToolCalls(ctx, world, agent, chatID, toolCalls)
}

func (o *Orchestrator) emitTurnError(ctx context.Context, worldID, chatID string, agent *models.Agent, err error) {
	o.bus.PublishSSE(ctx, worldID, &models.SSEEvent{
		Type: models.SSEError, WorldID: worldID, ChatID: chatID, AgentName: agent.Name, Error: err.Error(),
	})
}

// outgoingDirection classifies an agent's final reply: agent-to-agent when
// it @mentions another agent, agent-to-human otherwise.
func outgoingDirection(content string) models.Direction {
	if len(ExtractMentions(content)) > 0 {
		return models.DirectionAgentToAgent
	}
	return models.DirectionAgentToHuman
}

func failureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProviderFailure):
		return "provider"
	case errors.Is(err, ErrToolExecution):
		return "tool"
	case errors.Is(err, ErrApprovalDenied):
		return "approval"
	case errors.Is(err, ErrTurnLimit):
		return "turn_limit"
	default:
		return "other"
	}
}

// toolLikeSlice adapts a []tools.Tool into []ToolLike: Go doesn't permit
// converting a slice of one interface to a slice of another even when
// every element satisfies both, so this copies element by element.
func toolLikeSlice(ts []tools.Tool) []ToolLike {
	out := make([]ToolLike, len(ts))
	for i, t := range ts {
		out[i] = t
	}
	return out
}
