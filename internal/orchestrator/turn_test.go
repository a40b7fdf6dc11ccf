package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/agentworld/runtime/internal/approval"
	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/internal/llm"
	"github.com/agentworld/runtime/internal/memory"
	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/pkg/models"
)

func TestRunTurnFinalReplyDispatchesAndPersists(t *testing.T) {
	world := &models.World{ID: "w1", CurrentChatID: "c1", TurnLimit: 5}
	agent := &models.Agent{ID: "bot", Name: "bot", Provider: "fake", Model: "m1", WorldID: "w1", AutoReply: true}
	provider := &fakeProvider{name: "fake", events: []*llm.StreamEvent{
		{Type: llm.EventChunk, Delta: "hello "},
		{Type: llm.EventChunk, Delta: "world"},
		{Type: llm.EventEnd},
	}}
	o, s := newTestOrchestrator(t, world, []*models.Agent{agent}, provider)

	if err := o.RunTurn(context.Background(), world, agent, "c1"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider.calls = %d, want 1", provider.calls)
	}

	events, err := s.GetEvents(context.Background(), "w1", store.GetEventsOptions{ChatID: "c1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one persisted row for the final reply, got %d: %+v", len(events), events)
	}
	if events[0].Content != "hello world" {
		t.Errorf("content = %q, want %q", events[0].Content, "hello world")
	}
	if events[0].Role != models.RoleAssistant {
		t.Errorf("role = %q, want assistant", events[0].Role)
	}
}

func TestRunTurnStopsSilentlyAtCallLimit(t *testing.T) {
	world := &models.World{ID: "w1", CurrentChatID: "c1", TurnLimit: 5}
	agent := &models.Agent{ID: "bot", Name: "bot", Provider: "fake", Model: "m1", WorldID: "w1", AutoReply: true, LLMCallLimit: 1}
	provider := &fakeProvider{name: "fake", events: []*llm.StreamEvent{{Type: llm.EventEnd}}}
	o, s := newTestOrchestrator(t, world, []*models.Agent{agent}, provider)

	prior := &models.StoredEvent{
		ChatID: "c1", Type: models.EventTypeMessage, Role: models.RoleAssistant, Sender: "bot",
		MessageID: "prior-1", Content: "earlier reply",
		Metadata: &models.Metadata{OwnerAgentIDs: []string{"bot"}, Direction: models.DirectionAgentToHuman},
	}
	if err := s.SaveEvent(context.Background(), "w1", prior); err != nil {
		t.Fatalf("seed prior event: %v", err)
	}

	if err := o.RunTurn(context.Background(), world, agent, "c1"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider.calls = %d, want 0 (limit already reached before any call)", provider.calls)
	}
}

func TestRunTurnProviderStreamErrorWrapsSentinel(t *testing.T) {
	world := &models.World{ID: "w1", CurrentChatID: "c1", TurnLimit: 5}
	agent := &models.Agent{ID: "bot", Name: "bot", Provider: "fake", Model: "m1", WorldID: "w1", AutoReply: true}
	provider := &fakeProvider{name: "fake", events: []*llm.StreamEvent{
		{Type: llm.EventError, Err: errors.New("upstream exploded")},
	}}
	o, _ := newTestOrchestrator(t, world, []*models.Agent{agent}, provider)

	err := o.RunTurn(context.Background(), world, agent, "c1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrProviderFailure) {
		t.Errorf("err = %v, want wrapping ErrProviderFailure", err)
	}
}

func TestRunTurnPausesOnPendingApproval(t *testing.T) {
	world := &models.World{ID: "w1", CurrentChatID: "c1", TurnLimit: 5}
	agent := &models.Agent{ID: "bot", Name: "bot", Provider: "fake", Model: "m1", WorldID: "w1", AutoReply: true}

	call := models.ToolCall{ID: "call-1", Type: "function", Function: models.ToolCallFunction{Name: "dangerous_tool"}}
	provider := &fakeProvider{name: "fake", events: []*llm.StreamEvent{
		{Type: llm.EventToolCalls, ToolCalls: []models.ToolCall{call}},
		{Type: llm.EventEnd},
	}}
	gatedTool := &fakeTool{name: "dangerous_tool", requiresApproval: true, result: &tools.Result{Content: "should not run"}}

	s := store.NewMemoryStore()
	bus := eventbus.New(s)
	mem := memory.New(s)
	toolReg := tools.NewRegistry()
	toolReg.Register(gatedTool)

	o := New(Options{
		Bus:      bus,
		Store:    s,
		Memory:   mem,
		Approval: approval.NewChecker(mem, 0),
		Tools:    toolReg,
		LLM:      llm.NewRegistry(provider),
		Worlds:   &fakeWorldProvider{world: world, agents: []*models.Agent{agent}},
	})

	if err := o.RunTurn(context.Background(), world, agent, "c1"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if gatedTool.calls != 0 {
		t.Errorf("gatedTool.calls = %d, want 0 (must wait for approval)", gatedTool.calls)
	}

	events, err := s.GetEvents(context.Background(), "w1", store.GetEventsOptions{ChatID: "c1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	sawApprovalRequest := false
	for _, e := range events {
		for _, tc := range e.ToolCalls {
			if tc.Function.Name == approval.RequestApprovalToolName {
				sawApprovalRequest = true
			}
		}
	}
	if !sawApprovalRequest {
		t.Errorf("expected a persisted client.requestApproval call, got %+v", events)
	}
}

func TestRunTurnDisableStreamingSuppressesChunks(t *testing.T) {
	world := &models.World{ID: "w1", CurrentChatID: "c1", TurnLimit: 5}
	agent := &models.Agent{ID: "bot", Name: "bot", Provider: "fake", Model: "m1", WorldID: "w1", AutoReply: true}
	provider := &fakeProvider{name: "fake", events: []*llm.StreamEvent{
		{Type: llm.EventChunk, Delta: "hello "},
		{Type: llm.EventChunk, Delta: "world"},
		{Type: llm.EventEnd},
	}}

	s := store.NewMemoryStore()
	bus := eventbus.New(s)
	o := New(Options{
		Bus:              bus,
		Store:            s,
		Memory:           memory.New(s),
		Tools:            tools.NewRegistry(),
		LLM:              llm.NewRegistry(provider),
		Worlds:           &fakeWorldProvider{world: world, agents: []*models.Agent{agent}},
		DisableStreaming: true,
	})

	envs := make(chan eventbus.Envelope, 16)
	sub := bus.Subscribe("w1", eventbus.NewChanSink(envs))
	defer sub.Unsubscribe()

	if err := o.RunTurn(context.Background(), world, agent, "c1"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	var sawEnd bool
	close(envs)
	for env := range envs {
		if env.Channel != eventbus.ChannelSSE || env.SSE == nil {
			continue
		}
		switch env.SSE.Type {
		case models.SSEStart, models.SSEChunk:
			t.Fatalf("disabled streaming still emitted %v", env.SSE.Type)
		case models.SSEEnd:
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Errorf("expected a final sse:end event even with streaming disabled")
	}
}
