package orchestrator

import (
	"context"
	"fmt"

	"github.com/agentworld/runtime/pkg/models"
)

// countLLMCalls counts the assistant-authored events agentID owns in
// chatID: one row per provider.Stream call, whether or not that call
// produced tool calls, since EffectiveLLMCallLimit bounds total LLM calls
// rather than completed turns.
func (o *Orchestrator) countLLMCalls(ctx context.Context, worldID, chatID, agentID string) (int, error) {
	events, err := o.memory.RawOwned(ctx, worldID, chatID, agentID)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: count llm calls: %w", err)
	}
	count := 0
	for _, e := range events {
		if e.Role == models.RoleAssistant && e.Sender == agentID && !isSyntheticClientRow(e) {
			count++
		}
	}
	return count, nil
}

// isSyntheticClientRow reports whether e is an assistant row the
// orchestrator fabricated to carry client.* calls (approval requests):
// no content, and every tool call addressed to the client. Those rows
// never correspond to a provider call, so they don't count against the
// limit.
func isSyntheticClientRow(e *models.StoredEvent) bool {
	if e.Content != "" || len(e.ToolCalls) == 0 {
		return false
	}
	for _, tc := range e.ToolCalls {
		if !tc.Function.IsClientSide() {
			return false
		}
	}
	return true
}
