package orchestrator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agentworld/runtime/internal/llm"
	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/pkg/models"
)

var errFakeWorldNotFound = errors.New("fake: world not found")

// fakeWorldProvider is a fixed, single-world WorldProvider for tests.
type fakeWorldProvider struct {
	world  *models.World
	agents []*models.Agent
}

func (f *fakeWorldProvider) GetWorld(_ context.Context, worldID string) (*models.World, error) {
	if f.world == nil || f.world.ID != worldID {
		return nil, errFakeWorldNotFound
	}
	return f.world, nil
}

func (f *fakeWorldProvider) ListAgents(_ context.Context, worldID string) ([]*models.Agent, error) {
	if f.world == nil || f.world.ID != worldID {
		return nil, nil
	}
	return f.agents, nil
}

// fakeProvider streams a fixed, pre-built sequence of events regardless of
// the request, for deterministic RunTurn tests.
type fakeProvider struct {
	name   string
	events []*llm.StreamEvent
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Stream(_ context.Context, _ *llm.Request) (<-chan *llm.StreamEvent, error) {
	f.calls++
	ch := make(chan *llm.StreamEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

// fakeTool is a minimal tools.Tool for toolloop tests.
type fakeTool struct {
	name             string
	requiresApproval bool
	result           *tools.Result
	err              error
	calls            int
}

func (t *fakeTool) Name() string             { return t.name }
func (t *fakeTool) Description() string      { return "fake tool for tests" }
func (t *fakeTool) Schema() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (t *fakeTool) RequiresApproval() bool   { return t.requiresApproval }
func (t *fakeTool) Execute(_ context.Context, _ *tools.RuntimeContext, _ json.RawMessage) (*tools.Result, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}
