package approval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentworld/runtime/pkg/models"
)

func approvalRow(toolCallID string, content models.ApprovalResultContent) *models.StoredEvent {
	raw, _ := json.Marshal(content)
	return &models.StoredEvent{Role: models.RoleTool, ToolCallID: toolCallID, Content: string(raw)}
}

func TestReconstruct_SessionScopeMatchesAnyFutureCall(t *testing.T) {
	events := []*models.StoredEvent{
		approvalRow("call-1-approval", models.ApprovalResultContent{
			Type: "tool_result", Decision: models.ApprovalDecisionApprove,
			Scope: models.ApprovalScopeSession, ToolName: "shell_cmd",
		}),
	}
	state := Reconstruct(events)

	tests := []struct {
		name       string
		originalID string
	}{
		{"same call", "call-1"},
		{"a later, unrelated call with the same tool name", "call-99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := state.Decide("shell_cmd", tt.originalID)
			if d.Decision != models.ApprovalDecisionApprove {
				t.Errorf("expected session approval to cover %s, got %v", tt.originalID, d.Decision)
			}
		})
	}
}

func TestReconstruct_OnceScopeMatchesOnlyThatCall(t *testing.T) {
	events := []*models.StoredEvent{
		approvalRow("call-1-approval", models.ApprovalResultContent{
			Type: "tool_result", Decision: models.ApprovalDecisionApprove,
			Scope: models.ApprovalScopeOnce, ToolName: "shell_cmd",
		}),
	}
	state := Reconstruct(events)

	d := state.Decide("shell_cmd", "call-1")
	if d.Decision != models.ApprovalDecisionApprove || !d.Consumed {
		t.Fatalf("expected a consumed once-approval for call-1, got %+v", d)
	}

	other := state.Decide("shell_cmd", "call-2")
	if !other.IsPending() {
		t.Errorf("expected a different call ID to still be pending, got %+v", other)
	}
}

func TestReconstruct_DenyIsPermanentForThatCall(t *testing.T) {
	events := []*models.StoredEvent{
		approvalRow("call-1-approval", models.ApprovalResultContent{
			Type: "tool_result", Decision: models.ApprovalDecisionDeny, ToolName: "shell_cmd",
		}),
	}
	state := Reconstruct(events)

	d := state.Decide("shell_cmd", "call-1")
	if d.Decision != models.ApprovalDecisionDeny {
		t.Fatalf("expected denial for call-1, got %+v", d)
	}
	other := state.Decide("shell_cmd", "call-2")
	if !other.IsPending() {
		t.Errorf("expected denial to be scoped to call-1 only, call-2 got %+v", other)
	}
}

func TestReconstruct_NoMatchIsPending(t *testing.T) {
	state := Reconstruct(nil)
	d := state.Decide("shell_cmd", "call-1")
	if !d.IsPending() {
		t.Errorf("expected no approval rows to leave the call pending, got %+v", d)
	}
}

func requestRow(approvalCallID string, createdAt time.Time) *models.StoredEvent {
	return &models.StoredEvent{
		Role:      models.RoleAssistant,
		CreatedAt: createdAt,
		ToolCalls: []models.ToolCall{{ID: approvalCallID, Function: models.ToolCallFunction{Name: RequestApprovalToolName}}},
	}
}

type fakeChatMemory struct {
	events []*models.StoredEvent
	err    error
}

func (f *fakeChatMemory) RawOwned(ctx context.Context, worldID, chatID, agentID string) ([]*models.StoredEvent, error) {
	return f.events, f.err
}

func TestChecker_Check_NoTimeoutLeavesRequestPending(t *testing.T) {
	mem := &fakeChatMemory{events: []*models.StoredEvent{
		requestRow("call-1-approval", time.Now().Add(-time.Hour)),
	}}
	checker := NewChecker(mem, 0)

	d, err := checker.Check(context.Background(), "w1", "c1", "bot", "shell_cmd", "call-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.IsPending() {
		t.Errorf("expected pending decision with no timeout configured, got %+v", d)
	}
}

func TestChecker_Check_ExpiredRequestAutoDenies(t *testing.T) {
	mem := &fakeChatMemory{events: []*models.StoredEvent{
		requestRow("call-1-approval", time.Now().Add(-time.Hour)),
	}}
	checker := NewChecker(mem, time.Minute)

	d, err := checker.Check(context.Background(), "w1", "c1", "bot", "shell_cmd", "call-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Decision != models.ApprovalDecisionDeny || !d.TimedOut {
		t.Errorf("expected a timed-out denial, got %+v", d)
	}
}

func TestChecker_Check_RecentRequestStaysPendingUnderTimeout(t *testing.T) {
	mem := &fakeChatMemory{events: []*models.StoredEvent{
		requestRow("call-1-approval", time.Now()),
	}}
	checker := NewChecker(mem, time.Hour)

	d, err := checker.Check(context.Background(), "w1", "c1", "bot", "shell_cmd", "call-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.IsPending() {
		t.Errorf("expected a freshly-raised request to still be pending, got %+v", d)
	}
}

func TestChecker_Check_ActualDenyIsNotMarkedTimedOut(t *testing.T) {
	mem := &fakeChatMemory{events: []*models.StoredEvent{
		requestRow("call-1-approval", time.Now().Add(-time.Hour)),
		approvalRow("call-1-approval", models.ApprovalResultContent{
			Type: "tool_result", Decision: models.ApprovalDecisionDeny, ToolName: "shell_cmd",
		}),
	}}
	checker := NewChecker(mem, time.Minute)

	d, err := checker.Check(context.Background(), "w1", "c1", "bot", "shell_cmd", "call-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Decision != models.ApprovalDecisionDeny || d.TimedOut {
		t.Errorf("expected a real denial, not a synthesized timeout, got %+v", d)
	}
}

func TestBuildRequest_EmitsClientSideToolCall(t *testing.T) {
	original := models.ToolCall{ID: "call-1", Function: models.ToolCallFunction{Name: "shell_cmd", Arguments: json.RawMessage(`{"command":"ls"}`)}}
	req, err := BuildRequest(original, "shell_cmd wants to run: ls")
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Function.Name != RequestApprovalToolName {
		t.Errorf("expected %s, got %s", RequestApprovalToolName, req.Function.Name)
	}
	if !req.Function.IsClientSide() {
		t.Errorf("expected the synthetic request to be client-side")
	}

	var args models.RequestApprovalArgs
	if err := json.Unmarshal(req.Function.Arguments, &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if args.OriginalToolCall.ID != "call-1" || len(args.Options) != 3 {
		t.Errorf("unexpected args: %+v", args)
	}
}
