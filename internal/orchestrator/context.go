package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agentworld/runtime/internal/llm"
	"github.com/agentworld/runtime/internal/skills"
	"github.com/agentworld/runtime/pkg/models"
)

// ChatMemory is the subset of internal/memory.Manager context
// preparation needs.
type ChatMemory interface {
	ForContext(ctx context.Context, worldID, chatID, agentID string) ([]*models.StoredEvent, error)
}

// SkillLister is the subset of internal/skills.Manager needed to render
// the <available_skills> system-prompt block.
type SkillLister interface {
	List(workingDirectory string) []*skills.Entry
}

// BuildSystemPrompt assembles agent's system prompt: its own configured
// prompt, the working-directory line, and the <available_skills> listing
// for workingDirectory (omitted entirely when no skills are eligible).
func BuildSystemPrompt(agent *models.Agent, lister SkillLister, workingDirectory string) string {
	var b strings.Builder
	b.WriteString(agent.SystemPrompt)

	fmt.Fprintf(&b, "\n\nworking directory: %s", workingDirectory)

	if lister == nil {
		return b.String()
	}
	entries := lister.List(workingDirectory)
	if len(entries) == 0 {
		return b.String()
	}

	sorted := make([]*skills.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	b.WriteString("\n\n## Agent Skills\n<available_skills>\n")
	for _, e := range sorted {
		fmt.Fprintf(&b, "- %s: %s\n", e.ID, e.Description)
	}
	b.WriteString("</available_skills>")
	return b.String()
}

// BuildMessages loads agentID's filtered memory for chatID and converts
// it into the []llm.Message shape a Provider expects.
func BuildMessages(ctx context.Context, memory ChatMemory, worldID, chatID, agentID string) ([]llm.Message, error) {
	events, err := memory.ForContext(ctx, worldID, chatID, agentID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build messages: %w", err)
	}
	out := make([]llm.Message, 0, len(events))
	for _, e := range events {
		out = append(out, llm.Message{
			Role:       e.Role,
			Content:    e.Content,
			ToolCalls:  e.ToolCalls,
			ToolCallID: e.ToolCallID,
		})
	}
	return out, nil
}

// BuildTools converts a tool registry's entries into the []llm.ToolDefinition
// shape a Provider expects.
func BuildTools(entries []ToolLike) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(entries))
	for _, t := range entries {
		out = append(out, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return out
}

// ToolLike is the subset of internal/tools.Tool BuildTools needs, kept
// narrow so this package doesn't have to import internal/tools just to
// describe a tool to a Provider.
type ToolLike interface {
	Name() string
	Description() string
	Schema() json.RawMessage
}
