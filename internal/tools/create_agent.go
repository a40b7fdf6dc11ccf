package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// AgentCreator is the subset of internal/manager the create_agent tool
// needs: creating a new agent in the current world, inheriting its
// chatLLMProvider/Model, and posting the post-creation HITL
// confirmation.
type AgentCreator interface {
	CreateAgent(ctx context.Context, worldID, name, systemPrompt string, autoReply bool) (agentID string, err error)
	DefaultMentionTarget(ctx context.Context, worldID, chatID string) (string, error)
	NotifyAgentCreated(ctx context.Context, worldID, agentID string) error
}

// CreateAgentTool implements create_agent: always requires approval, and
// on approval builds the agent's system prompt using a fixed template.
type CreateAgentTool struct {
	creator AgentCreator
}

// NewCreateAgentTool constructs the create_agent tool.
func NewCreateAgentTool(creator AgentCreator) *CreateAgentTool {
	return &CreateAgentTool{creator: creator}
}

func (t *CreateAgentTool) Name() string          { return "create_agent" }
func (t *CreateAgentTool) RequiresApproval() bool { return true }

func (t *CreateAgentTool) Description() string {
	return "Creates a new agent in the current world, with a system prompt that enforces a fixed response structure."
}

func (t *CreateAgentTool) Schema() json.RawMessage {
	return schemaFor(&createAgentArgs{})
}

type createAgentArgs struct {
	Name      string `json:"name" jsonschema:"required"`
	Role      string `json:"role"`
	NextAgent string `json:"nextAgent" jsonschema:"description=Agent the new agent should @mention in each reply."`
	AutoReply *bool  `json:"autoReply"`
}

// BuildSystemPrompt renders the fixed system-prompt template used for
// agents created via create_agent.
func BuildSystemPrompt(name, role, nextAgent string) string {
	return fmt.Sprintf("You are agent %s. Your role is %s.\n\nAlways respond in exactly this structure:\n@%s\n{Your response}", name, role, nextAgent)
}

func (t *CreateAgentTool) Execute(ctx context.Context, rt *RuntimeContext, rawArgs json.RawMessage) (*Result, error) {
	var args createAgentArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ErrorResult("invalid create_agent arguments: %v", err), nil
	}
	if args.Name == "" {
		return ErrorResult("name is required"), nil
	}

	nextAgent := args.NextAgent
	if nextAgent == "" {
		target, err := t.creator.DefaultMentionTarget(ctx, rt.WorldID, rt.ChatID)
		if err != nil {
			return ErrorResult("resolve default mention target: %v", err), nil
		}
		nextAgent = target
	}

	autoReply := true
	if args.AutoReply != nil {
		autoReply = *args.AutoReply
	}

	systemPrompt := BuildSystemPrompt(args.Name, args.Role, nextAgent)
	agentID, err := t.creator.CreateAgent(ctx, rt.WorldID, args.Name, systemPrompt, autoReply)
	if err != nil {
		return ErrorResult("create agent: %v", err), nil
	}
	if err := t.creator.NotifyAgentCreated(ctx, rt.WorldID, agentID); err != nil {
		return ErrorResult("notify agent created: %v", err), nil
	}

	payload, _ := json.Marshal(map[string]string{"status": "created", "agent_id": agentID})
	return &Result{Content: string(payload)}, nil
}
