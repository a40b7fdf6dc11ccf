package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// SkillProvider is the subset of internal/skills.Manager the load_skill
// tool needs. workingDirectory scopes project-level skill resolution.
type SkillProvider interface {
	Load(ctx context.Context, workingDirectory, skillID string) (instructions, executionDirective string, err error)
}

// LoadSkillTool implements load_skill: reads SKILL.md for skill_id and
// returns a <skill_context> envelope.
type LoadSkillTool struct {
	skills SkillProvider
}

// NewLoadSkillTool constructs the load_skill tool.
func NewLoadSkillTool(skills SkillProvider) *LoadSkillTool {
	return &LoadSkillTool{skills: skills}
}

func (t *LoadSkillTool) Name() string          { return "load_skill" }
func (t *LoadSkillTool) RequiresApproval() bool { return false }

func (t *LoadSkillTool) Description() string {
	return "Loads a registered skill's instructions into the agent's context."
}

func (t *LoadSkillTool) Schema() json.RawMessage {
	return schemaFor(&loadSkillArgs{})
}

type loadSkillArgs struct {
	SkillID string `json:"skill_id" jsonschema:"required"`
}

func (t *LoadSkillTool) Execute(ctx context.Context, rt *RuntimeContext, rawArgs json.RawMessage) (*Result, error) {
	var args loadSkillArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ErrorResult("invalid load_skill arguments: %v", err), nil
	}
	if args.SkillID == "" {
		return ErrorResult("skill_id is required"), nil
	}

	instructions, directive, err := t.skills.Load(ctx, rt.WorkingDirectory, args.SkillID)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"status": "not_found", "skill_id": args.SkillID, "error": err.Error()})
		return &Result{Content: string(payload), IsError: true}, nil
	}

	envelope := fmt.Sprintf("<skill_context>\n<instructions>\n%s\n</instructions>\n<execution_directive>\n%s\n</execution_directive>\n</skill_context>", instructions, directive)
	return &Result{Content: envelope}, nil
}
