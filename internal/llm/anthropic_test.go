package llm

import (
	"encoding/json"
	"testing"

	"github.com/agentworld/runtime/pkg/models"
)

func TestNewAnthropicProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      AnthropicConfig
		expectError bool
	}{
		{name: "valid config", config: AnthropicConfig{APIKey: "test-key"}},
		{name: "missing API key", config: AnthropicConfig{}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewAnthropicProvider(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider.Name() != "anthropic" {
				t.Errorf("expected name 'anthropic', got %q", provider.Name())
			}
			if provider.defaultModel == "" {
				t.Error("defaultModel should have a default value")
			}
		})
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	messages := []Message{
		{Role: models.RoleSystem, Content: "handled via the System param"},
		{Role: models.RoleUser, Content: "list the files"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call_1", Type: "function", Function: models.ToolCallFunction{Name: "shell_cmd", Arguments: json.RawMessage(`{"command":"ls"}`)}},
		}},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: `{"status":"success"}`},
	}

	got, err := convertAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convertAnthropicMessages: %v", err)
	}
	// The system message is carried in params.System, not the message list.
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}

	if got[0].Role != "user" {
		t.Errorf("message 0: expected role user, got %q", got[0].Role)
	}
	if len(got[0].Content) != 1 || got[0].Content[0].OfText == nil {
		t.Fatalf("message 0: expected one text block, got %+v", got[0].Content)
	}
	if got[0].Content[0].OfText.Text != "list the files" {
		t.Errorf("message 0: unexpected text %q", got[0].Content[0].OfText.Text)
	}

	if got[1].Role != "assistant" {
		t.Errorf("message 1: expected role assistant, got %q", got[1].Role)
	}
	if len(got[1].Content) != 1 || got[1].Content[0].OfToolUse == nil {
		t.Fatalf("message 1: expected one tool_use block, got %+v", got[1].Content)
	}
	toolUse := got[1].Content[0].OfToolUse
	if toolUse.ID != "call_1" || toolUse.Name != "shell_cmd" {
		t.Errorf("message 1: unexpected tool_use %q/%q", toolUse.ID, toolUse.Name)
	}

	// Tool results become tool_result blocks inside a user message.
	if got[2].Role != "user" {
		t.Errorf("message 2: expected role user, got %q", got[2].Role)
	}
	foundResult := false
	for _, block := range got[2].Content {
		if block.OfToolResult != nil {
			foundResult = true
			if block.OfToolResult.ToolUseID != "call_1" {
				t.Errorf("message 2: expected tool_use_id call_1, got %q", block.OfToolResult.ToolUseID)
			}
		}
	}
	if !foundResult {
		t.Error("message 2: expected a tool_result block")
	}
}

func TestConvertAnthropicMessages_InvalidToolArgumentsIsAnError(t *testing.T) {
	messages := []Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call_1", Function: models.ToolCallFunction{Name: "shell_cmd", Arguments: json.RawMessage(`{broken`)}},
		}},
	}
	if _, err := convertAnthropicMessages(messages); err == nil {
		t.Fatal("expected an error for unparsable tool arguments")
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	tools := []ToolDefinition{
		{Name: "shell_cmd", Description: "run a command", Schema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`)},
	}

	got, err := convertAnthropicTools(tools)
	if err != nil {
		t.Fatalf("convertAnthropicTools: %v", err)
	}
	if len(got) != 1 || got[0].OfTool == nil {
		t.Fatalf("expected one tool param, got %+v", got)
	}
	if got[0].OfTool.Name != "shell_cmd" {
		t.Errorf("expected name shell_cmd, got %q", got[0].OfTool.Name)
	}
}

func TestConvertAnthropicTools_InvalidSchemaIsAnError(t *testing.T) {
	tools := []ToolDefinition{{Name: "bad", Schema: json.RawMessage(`not json`)}}
	if _, err := convertAnthropicTools(tools); err == nil {
		t.Fatal("expected an error for an unparsable schema")
	}
}
