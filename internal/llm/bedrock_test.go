package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentworld/runtime/pkg/models"
)

func TestNewBedrockProvider_RequiresRegion(t *testing.T) {
	if _, err := NewBedrockProvider(context.Background(), BedrockConfig{}); err == nil {
		t.Fatal("expected an error when region is missing")
	}
}

func TestNewBedrockProvider_StaticCredentials(t *testing.T) {
	provider, err := NewBedrockProvider(context.Background(), BedrockConfig{
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Name() != "bedrock" {
		t.Errorf("expected name 'bedrock', got %q", provider.Name())
	}
	if provider.defaultModel == "" {
		t.Error("defaultModel should have a default value")
	}
}

func TestConvertBedrockMessages(t *testing.T) {
	messages := []Message{
		{Role: models.RoleSystem, Content: "handled via input.System"},
		{Role: models.RoleUser, Content: "list the files"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call_1", Function: models.ToolCallFunction{Name: "shell_cmd", Arguments: json.RawMessage(`{"command":"ls"}`)}},
		}},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: `{"status":"success"}`},
	}

	got, err := convertBedrockMessages(messages)
	if err != nil {
		t.Fatalf("convertBedrockMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages (system elided), got %d", len(got))
	}

	if got[0].Role != types.ConversationRoleUser {
		t.Errorf("message 0: expected user role, got %q", got[0].Role)
	}
	if text, ok := got[0].Content[0].(*types.ContentBlockMemberText); !ok || text.Value != "list the files" {
		t.Errorf("message 0: expected a text block, got %+v", got[0].Content[0])
	}

	if got[1].Role != types.ConversationRoleAssistant {
		t.Errorf("message 1: expected assistant role, got %q", got[1].Role)
	}
	toolUse, ok := got[1].Content[0].(*types.ContentBlockMemberToolUse)
	if !ok {
		t.Fatalf("message 1: expected a tool_use block, got %+v", got[1].Content[0])
	}
	if aws.ToString(toolUse.Value.ToolUseId) != "call_1" || aws.ToString(toolUse.Value.Name) != "shell_cmd" {
		t.Errorf("message 1: unexpected tool_use %+v", toolUse.Value)
	}

	// Tool results ride in a user-role message.
	if got[2].Role != types.ConversationRoleUser {
		t.Errorf("message 2: expected user role, got %q", got[2].Role)
	}
	foundResult := false
	for _, block := range got[2].Content {
		if result, ok := block.(*types.ContentBlockMemberToolResult); ok {
			foundResult = true
			if aws.ToString(result.Value.ToolUseId) != "call_1" {
				t.Errorf("message 2: expected tool_use_id call_1, got %q", aws.ToString(result.Value.ToolUseId))
			}
		}
	}
	if !foundResult {
		t.Error("message 2: expected a tool_result block")
	}
}

func TestConvertBedrockMessages_InvalidToolArgumentsIsAnError(t *testing.T) {
	messages := []Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call_1", Function: models.ToolCallFunction{Name: "shell_cmd", Arguments: json.RawMessage(`{broken`)}},
		}},
	}
	if _, err := convertBedrockMessages(messages); err == nil {
		t.Fatal("expected an error for unparsable tool arguments")
	}
}

func TestConvertBedrockTools(t *testing.T) {
	if convertBedrockTools(nil) != nil {
		t.Error("expected nil tool config for an empty tool list")
	}

	got := convertBedrockTools([]ToolDefinition{
		{Name: "shell_cmd", Description: "run a command", Schema: json.RawMessage(`{"type":"object"}`)},
	})
	if got == nil || len(got.Tools) != 1 {
		t.Fatalf("expected one tool spec, got %+v", got)
	}
	spec, ok := got.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("expected a ToolMemberToolSpec, got %T", got.Tools[0])
	}
	if aws.ToString(spec.Value.Name) != "shell_cmd" {
		t.Errorf("expected name shell_cmd, got %q", aws.ToString(spec.Value.Name))
	}
}
