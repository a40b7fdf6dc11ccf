package orchestrator

import (
	"context"
	"testing"

	"github.com/agentworld/runtime/internal/approval"
	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/internal/memory"
	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/pkg/models"
)

func newToolLoopOrchestrator(t *testing.T, ts ...tools.Tool) (*Orchestrator, store.EventStore) {
	t.Helper()
	s := store.NewMemoryStore()
	bus := eventbus.New(s)
	mem := memory.New(s)
	reg := tools.NewRegistry()
	for _, tool := range ts {
		reg.Register(tool)
	}
	o := New(Options{
		Bus:      bus,
		Store:    s,
		Memory:   mem,
		Approval: approval.NewChecker(mem, 0),
		Tools:    reg,
		Worlds:   &fakeWorldProvider{},
	})
	return o, s
}

func TestProcessToolCallsUnknownTool(t *testing.T) {
	o, s := newToolLoopOrchestrator(t)
	world := &models.World{ID: "w1"}
	agent := &models.Agent{ID: "bot"}
	calls := []models.ToolCall{{ID: "c1", Function: models.ToolCallFunction{Name: "does_not_exist"}}}

	paused, err := o.processToolCalls(context.Background(), world, agent, "chat1", calls)
	if err != nil {
		t.Fatalf("processToolCalls: %v", err)
	}
	if paused {
		t.Error("paused = true, want false (unknown tool resolves immediately with an error result)")
	}

	events, err := s.GetEvents(context.Background(), "w1", store.GetEventsOptions{ChatID: "chat1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || !contains(events[0].Content, "unknown tool") {
		t.Fatalf("expected an unknown-tool error result, got %+v", events)
	}
}

func TestProcessToolCallsExecutesUngatedTool(t *testing.T) {
	tool := &fakeTool{name: "echo", result: &tools.Result{Content: "ok"}}
	o, s := newToolLoopOrchestrator(t, tool)
	world := &models.World{ID: "w1"}
	agent := &models.Agent{ID: "bot"}
	calls := []models.ToolCall{{ID: "c1", Function: models.ToolCallFunction{Name: "echo"}}}

	paused, err := o.processToolCalls(context.Background(), world, agent, "chat1", calls)
	if err != nil {
		t.Fatalf("processToolCalls: %v", err)
	}
	if paused {
		t.Error("paused = true, want false")
	}
	if tool.calls != 1 {
		t.Errorf("tool.calls = %d, want 1", tool.calls)
	}

	events, err := s.GetEvents(context.Background(), "w1", store.GetEventsOptions{ChatID: "chat1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].Content != "ok" {
		t.Fatalf("expected the tool result persisted, got %+v", events)
	}
}

func TestProcessToolCallsClientSideWaits(t *testing.T) {
	o, s := newToolLoopOrchestrator(t)
	world := &models.World{ID: "w1"}
	agent := &models.Agent{ID: "bot"}
	calls := []models.ToolCall{{ID: "c1", Function: models.ToolCallFunction{Name: "client.requestApproval"}}}

	paused, err := o.processToolCalls(context.Background(), world, agent, "chat1", calls)
	if err != nil {
		t.Fatalf("processToolCalls: %v", err)
	}
	if !paused {
		t.Error("paused = false, want true (client-side call must wait for an external answer)")
	}

	events, err := s.GetEvents(context.Background(), "w1", store.GetEventsOptions{ChatID: "chat1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected nothing persisted for a bare client-side wait, got %+v", events)
	}
}

func TestProcessToolCallsDeniedApproval(t *testing.T) {
	gated := &fakeTool{name: "dangerous", requiresApproval: true, result: &tools.Result{Content: "should not run"}}
	o, s := newToolLoopOrchestrator(t, gated)
	world := &models.World{ID: "w1"}
	agent := &models.Agent{ID: "bot"}
	ctx := context.Background()

	// A prior denial tool_result for this call, owned by bot.
	deny := &models.StoredEvent{
		ChatID: "chat1", Type: models.EventTypeMessage, Role: models.RoleTool, Sender: "bot",
		ToolCallID: "c1-approval",
		Content:    `{"__type":"tool_result","decision":"deny"}`,
		Metadata:   &models.Metadata{OwnerAgentIDs: []string{"bot"}},
	}
	if err := s.SaveEvent(ctx, "w1", deny); err != nil {
		t.Fatalf("seed denial: %v", err)
	}

	calls := []models.ToolCall{{ID: "c1", Function: models.ToolCallFunction{Name: "dangerous"}}}
	paused, err := o.processToolCalls(ctx, world, agent, "chat1", calls)
	if err != nil {
		t.Fatalf("processToolCalls: %v", err)
	}
	if paused {
		t.Error("paused = true, want false (denial resolves immediately)")
	}
	if gated.calls != 0 {
		t.Errorf("gated.calls = %d, want 0", gated.calls)
	}

	events, err := s.GetEvents(ctx, "w1", store.GetEventsOptions{ChatID: "chat1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	found := false
	for _, e := range events {
		if e.ToolCallID == "c1" && contains(e.Content, "denied") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a denied-call result for c1, got %+v", events)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
