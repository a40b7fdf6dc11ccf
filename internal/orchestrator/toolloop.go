package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentworld/runtime/internal/approval"
	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/pkg/models"
)

// processToolCalls executes every call in calls that is ready to run,
// short-circuits client-side calls and approval-gated calls that are
// still pending a decision, and persists the results. paused reports
// whether the turn must stop and wait for an external tool_result
// (true) or can loop immediately for the model's follow-up completion
// (false, meaning every call resolved to a result this iteration).
func (o *Orchestrator) processToolCalls(ctx context.Context, world *models.World, agent *models.Agent, chatID string, calls []models.ToolCall) (bool, error) {
	var pendingApprovals []models.ToolCall
	waitingOnClient := false

	for _, call := range calls {
		if call.Function.IsClientSide() {
			// The model addressed the client directly; nothing to execute,
			// the turn waits for the matching tool_result to arrive.
			waitingOnClient = true
			continue
		}

		tool, ok := o.tools.Get(call.Function.Name)
		if !ok {
			if err := o.persistToolResult(ctx, world.ID, chatID, agent.ID, call.ID, tools.ErrorResult("unknown tool %q", call.Function.Name)); err != nil {
				return false, err
			}
			continue
		}

		if tool.RequiresApproval() {
			decision, err := o.approval.Check(ctx, world.ID, chatID, agent.ID, tool.Name(), call.ID)
			if err != nil {
				return false, fmt.Errorf("%w: %v", ErrStorage, err)
			}
			switch {
			case decision.Decision == models.ApprovalDecisionDeny:
				label := "deny"
				message := fmt.Sprintf("call to %s was denied", tool.Name())
				if decision.TimedOut {
					label = "timeout"
					message = fmt.Sprintf("call to %s timed out waiting for approval and was denied", tool.Name())
				}
				if o.metrics != nil {
					o.metrics.ApprovalsTotal.WithLabelValues(tool.Name(), label).Inc()
				}
				if err := o.persistToolResult(ctx, world.ID, chatID, agent.ID, call.ID, tools.ErrorResult("%s", message)); err != nil {
					return false, err
				}
				continue
			case decision.Decision == models.ApprovalDecisionApprove:
				if o.metrics != nil {
					o.metrics.ApprovalsTotal.WithLabelValues(tool.Name(), "approve").Inc()
				}
				// fall through to execution below
			default:
				requested, err := o.approval.AlreadyRequested(ctx, world.ID, chatID, agent.ID, call.ID)
				if err != nil {
					return false, fmt.Errorf("%w: %v", ErrStorage, err)
				}
				if requested {
					// The request is already in front of the client;
					// keep waiting rather than raising a duplicate.
					waitingOnClient = true
					continue
				}
				req, err := approval.BuildRequest(call, fmt.Sprintf("Approve call to %s?", tool.Name()))
				if err != nil {
					return false, fmt.Errorf("%w: %v", ErrValidation, err)
				}
				pendingApprovals = append(pendingApprovals, req)
				continue
			}
		}

		result, err := o.executeTool(ctx, world, agent, chatID, tool, call)
		if err != nil {
			result = tools.ErrorResult("tool execution failed: %v", err)
		}
		if err := o.persistToolResult(ctx, world.ID, chatID, agent.ID, call.ID, result); err != nil {
			return false, err
		}
	}

	if len(pendingApprovals) == 0 && !waitingOnClient {
		return false, nil
	}

	if len(pendingApprovals) > 0 {
		if err := o.persistApprovalRequests(ctx, world.ID, chatID, agent.ID, pendingApprovals); err != nil {
			return false, err
		}
	}
	return true, nil
}

// pendingToolCalls scans agentID's raw chat memory for non-client tool
// calls that have no matching tool_result row yet: the calls a previous
// iteration parked behind an approval request. The resumed turn must run
// these before asking the provider for a follow-up completion, or the
// approval would resolve into a conversation whose tool call never
// produced a result.
func (o *Orchestrator) pendingToolCalls(ctx context.Context, worldID, chatID, agentID string) ([]models.ToolCall, error) {
	events, err := o.memory.RawOwned(ctx, worldID, chatID, agentID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: scan pending tool calls: %w", err)
	}

	resolved := make(map[string]bool)
	for _, e := range events {
		if e.Role == models.RoleTool && e.ToolCallID != "" {
			resolved[e.ToolCallID] = true
		}
	}

	var pending []models.ToolCall
	for _, e := range events {
		if e.Role != models.RoleAssistant {
			continue
		}
		for _, call := range e.ToolCalls {
			if call.Function.IsClientSide() || resolved[call.ID] {
				continue
			}
			pending = append(pending, call)
		}
	}
	return pending, nil
}

// executeTool runs one approved tool call, wiring its Stdout/Stderr
// streams to SSE tool-stream events and bracketing execution with
// tool-start/tool-end events for the UI.
func (o *Orchestrator) executeTool(ctx context.Context, world *models.World, agent *models.Agent, chatID string, tool tools.Tool, call models.ToolCall) (*tools.Result, error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartTool(ctx, tool.Name())
		defer span.End()
	}

	o.bus.PublishSSE(ctx, world.ID, &models.SSEEvent{
		Type: models.SSEToolStart, WorldID: world.ID, ChatID: chatID, AgentName: agent.Name,
		ToolName: tool.Name(), ToolCallID: call.ID, Args: call.Function.Arguments,
	})

	stream := func(chunk string) {
		o.bus.PublishSSE(ctx, world.ID, &models.SSEEvent{
			Type: models.SSEToolStream, WorldID: world.ID, ChatID: chatID, AgentName: agent.Name,
			ToolName: tool.Name(), ToolCallID: call.ID, Content: chunk,
		})
		o.TrackerFor(world.ID).Mark()
	}

	rt := &tools.RuntimeContext{
		WorldID:          world.ID,
		ChatID:           chatID,
		AgentID:          agent.ID,
		WorkingDirectory: world.WorkingDirectory(),
		Stdout:           stream,
		Stderr:           stream,
	}

	start := o.TrackerFor(world.ID)
	start.Begin()
	result, err := o.tools.Execute(ctx, rt, tool.Name(), call.Function.Arguments)
	start.End()

	status := "ok"
	if err != nil || (result != nil && result.IsError) {
		status = "error"
	}
	if o.metrics != nil {
		o.metrics.ToolExecutions.WithLabelValues(tool.Name(), status).Inc()
	}

	var exitCode *int
	timedOut := false
	if result != nil {
		exitCode = result.ExitCode
		timedOut = result.TimedOut
	}
	o.bus.PublishSSE(ctx, world.ID, &models.SSEEvent{
		Type: models.SSEToolEnd, WorldID: world.ID, ChatID: chatID, AgentName: agent.Name,
		ToolName: tool.Name(), ToolCallID: call.ID, ExitCode: exitCode, TimedOut: timedOut,
	})

	return result, err
}

// persistToolResult appends a tool_result row, owned solely by agentID,
// for one resolved call.
func (o *Orchestrator) persistToolResult(ctx context.Context, worldID, chatID, agentID, callID string, result *tools.Result) error {
	event := &models.StoredEvent{
		ChatID:     chatID,
		Type:       models.EventTypeMessage,
		Role:       models.RoleTool,
		Sender:     agentID,
		Content:    result.Content,
		ToolCallID: callID,
		Metadata:   &models.Metadata{RecipientAgentID: agentID, Direction: models.DirectionSystem},
	}
	stampEvent(event, worldID)
	event.Seq = o.bus.NextSeq(worldID)
	if err := o.memory.Append(ctx, worldID, event, nil, nil); err != nil {
		return fmt.Errorf("orchestrator: persist tool result: %w", err)
	}
	o.bus.Publish(ctx, eventbus.Envelope{Channel: eventbus.ChannelMessage, WorldID: worldID, Event: event})
	return nil
}

// persistApprovalRequests appends an assistant message carrying only the
// synthetic client.requestApproval calls, owned solely by agentID, so the
// client sees exactly the approvals it must answer to unblock the turn.
func (o *Orchestrator) persistApprovalRequests(ctx context.Context, worldID, chatID, agentID string, requests []models.ToolCall) error {
	event := &models.StoredEvent{
		ChatID:    chatID,
		Type:      models.EventTypeMessage,
		Role:      models.RoleAssistant,
		Sender:    agentID,
		ToolCalls: requests,
		Metadata:  &models.Metadata{RecipientAgentID: agentID, Direction: models.DirectionSystem, HasToolCalls: true},
	}
	stampEvent(event, worldID)
	event.ID = uuid.NewString()
	event.Seq = o.bus.NextSeq(worldID)
	if err := o.memory.Append(ctx, worldID, event, nil, nil); err != nil {
		return fmt.Errorf("orchestrator: persist approval requests: %w", err)
	}
	o.bus.Publish(ctx, eventbus.Envelope{Channel: eventbus.ChannelMessage, WorldID: worldID, Event: event})
	return nil
}
