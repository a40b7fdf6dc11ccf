// Package approval reconstructs tool-call approval state by scanning chat
// memory rather than maintaining a separate table, and manages the
// generic human-in-the-loop option-request table a world exposes to its
// agents.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentworld/runtime/pkg/models"
)

// RequestApprovalToolName is the synthetic client-side tool call the
// orchestrator appends when a tool requires approval.
const RequestApprovalToolName = "client.requestApproval"

// BuildRequest constructs the synthetic client.requestApproval tool call
// for originalCall, emitted as a ToolCall since this runtime routes
// approvals through the ordinary tool-call/tool-result channel rather
// than a side API.
func BuildRequest(originalCall models.ToolCall, message string) (models.ToolCall, error) {
	args := models.RequestApprovalArgs{
		OriginalToolCall: models.OriginalToolCall{
			ID:   originalCall.ID,
			Name: originalCall.Function.Name,
			Args: originalCall.Function.Arguments,
		},
		Message: message,
		Options: []string{"deny", "approve_once", "approve_session"},
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return models.ToolCall{}, fmt.Errorf("approval: marshal request args: %w", err)
	}
	return models.ToolCall{
		ID:   originalCall.ID + "-approval",
		Type: "function",
		Function: models.ToolCallFunction{
			Name:      RequestApprovalToolName,
			Arguments: raw,
		},
	}, nil
}

// State is the reconstructed approval ledger for one chat, built by
// scanning its memory once: the scan is deterministic, bounded by
// chat memory size, and never crosses chat boundaries.
type State struct {
	sessionApprovals map[string]bool                         // toolName -> approved for the rest of the session
	onceApprovals    map[string]models.ApprovalResultContent // originalToolCallId -> approval, consumed on use
	denials          map[string]bool                         // originalToolCallId -> permanently denied
	requestedAt      map[string]time.Time                    // originalToolCallId -> when the request was raised
}

// Reconstruct scans a chat's memory events for ApprovalResultContent
// tool_result rows and builds the approval ledger they describe, plus the
// raise time of every client.requestApproval call seen (for timeout
// expiry, see Checker.Check).
func Reconstruct(events []*models.StoredEvent) *State {
	s := &State{
		sessionApprovals: make(map[string]bool),
		onceApprovals:    make(map[string]models.ApprovalResultContent),
		denials:          make(map[string]bool),
		requestedAt:      make(map[string]time.Time),
	}

	for _, e := range events {
		for _, call := range e.ToolCalls {
			if call.Function.Name == RequestApprovalToolName {
				s.requestedAt[stripApprovalSuffix(call.ID)] = e.CreatedAt
			}
		}

		if e.Role != models.RoleTool || e.Content == "" {
			continue
		}
		var result models.ApprovalResultContent
		if err := json.Unmarshal([]byte(e.Content), &result); err != nil || result.Type != "tool_result" {
			continue
		}
		if result.Decision != models.ApprovalDecisionApprove && result.Decision != models.ApprovalDecisionDeny {
			continue
		}

		originalID := extractOriginalCallID(e)
		switch {
		case result.Decision == models.ApprovalDecisionDeny:
			s.denials[originalID] = true
		case result.Scope == models.ApprovalScopeSession:
			s.sessionApprovals[result.ToolName] = true
		default: // once
			s.onceApprovals[originalID] = result
		}
	}
	return s
}

// extractOriginalCallID pulls the originalToolCall.id referenced by an
// approval tool_result row out of its tool_call_id, which the orchestrator
// sets to "<originalId>-approval" (see BuildRequest).
func extractOriginalCallID(e *models.StoredEvent) string {
	return stripApprovalSuffix(e.ToolCallID)
}

// stripApprovalSuffix strips the "-approval" suffix BuildRequest appends
// to an original call's ID to form the synthetic request's own ID.
func stripApprovalSuffix(id string) string {
	const suffix = "-approval"
	if len(id) > len(suffix) && id[len(id)-len(suffix):] == suffix {
		return id[:len(id)-len(suffix)]
	}
	return id
}

// Decision is the resolved approval outcome for one pending tool call.
type Decision struct {
	Decision models.ApprovalDecision
	Consumed bool // true if this was a "once" approval and must not be reused
	TimedOut bool // true if Deny was synthesized by Checker.Check's timeout rather than an actual human response
}

// Decide resolves the approval state for a tool call identified by
// toolName and originalToolCallID, in precedence order: permanent denial,
// then session approval, then a matching once approval, else pending
func (s *State) Decide(toolName, originalToolCallID string) Decision {
	if s.denials[originalToolCallID] {
		return Decision{Decision: models.ApprovalDecisionDeny}
	}
	if s.sessionApprovals[toolName] {
		return Decision{Decision: models.ApprovalDecisionApprove}
	}
	if _, ok := s.onceApprovals[originalToolCallID]; ok {
		return Decision{Decision: models.ApprovalDecisionApprove, Consumed: true}
	}
	return Decision{} // zero value Decision{} has no Decision set: caller treats as pending
}

// IsPending reports whether d represents neither an approval nor a
// denial, i.e. the request is still awaiting a client response.
func (d Decision) IsPending() bool {
	return d.Decision != models.ApprovalDecisionApprove && d.Decision != models.ApprovalDecisionDeny
}

// ChatMemory is the subset of internal/memory.Manager approval needs to
// scan one chat's events for an agent. RawOwned (not ForContext) must be
// used: the approval round-trip is itself a client.* tool call/result
// pair, which ForContext's filterClientSideMessages would strip.
type ChatMemory interface {
	RawOwned(ctx context.Context, worldID, chatID, agentID string) ([]*models.StoredEvent, error)
}

// Checker resolves approval decisions by scanning an agent's chat
// memory on demand, on each orchestrator tick.
type Checker struct {
	memory  ChatMemory
	timeout time.Duration // 0 disables auto-deny on expiry
}

// NewChecker creates a Checker backed by memory. A request still pending
// after timeout auto-resolves to deny the next time Check runs; pass 0 to
// leave requests pending indefinitely.
func NewChecker(memory ChatMemory, timeout time.Duration) *Checker {
	return &Checker{memory: memory, timeout: timeout}
}

// Check scans worldID/chatID/agentID's memory and resolves the approval
// decision for toolName/originalToolCallID. A request still pending after
// the checker's timeout is treated as denied: the human never answered in
// time, and the turn must not block on it forever.
func (c *Checker) Check(ctx context.Context, worldID, chatID, agentID, toolName, originalToolCallID string) (Decision, error) {
	events, err := c.memory.RawOwned(ctx, worldID, chatID, agentID)
	if err != nil {
		return Decision{}, fmt.Errorf("approval: scan chat memory: %w", err)
	}
	state := Reconstruct(events)
	decision := state.Decide(toolName, originalToolCallID)
	if decision.IsPending() && c.timeout > 0 {
		if requestedAt, ok := state.requestedAt[originalToolCallID]; ok && time.Since(requestedAt) > c.timeout {
			return Decision{Decision: models.ApprovalDecisionDeny, TimedOut: true}, nil
		}
	}
	return decision, nil
}

// AlreadyRequested reports whether a client.requestApproval call for
// originalToolCallID is already in the chat's memory, so a re-entered
// turn waits on the outstanding request instead of raising a duplicate.
func (c *Checker) AlreadyRequested(ctx context.Context, worldID, chatID, agentID, originalToolCallID string) (bool, error) {
	events, err := c.memory.RawOwned(ctx, worldID, chatID, agentID)
	if err != nil {
		return false, fmt.Errorf("approval: scan chat memory: %w", err)
	}
	state := Reconstruct(events)
	_, ok := state.requestedAt[originalToolCallID]
	return ok, nil
}
