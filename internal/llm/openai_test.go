package llm

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentworld/runtime/pkg/models"
)

func TestNewOpenAIProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      OpenAIConfig
		expectError bool
	}{
		{name: "valid config", config: OpenAIConfig{APIKey: "test-key"}},
		{name: "missing API key", config: OpenAIConfig{}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewOpenAIProvider(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider.Name() != "openai" {
				t.Errorf("expected name 'openai', got %q", provider.Name())
			}
		})
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []Message{
		{Role: models.RoleUser, Content: "list the files"},
		{Role: models.RoleAssistant, Content: "", ToolCalls: []models.ToolCall{
			{ID: "call_1", Type: "function", Function: models.ToolCallFunction{Name: "shell_cmd", Arguments: json.RawMessage(`{"command":"ls"}`)}},
		}},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: `{"status":"success"}`},
	}

	got := convertOpenAIMessages(messages, "you are helpful")
	if len(got) != 4 {
		t.Fatalf("expected system + 3 messages, got %d", len(got))
	}

	if got[0].Role != openai.ChatMessageRoleSystem || got[0].Content != "you are helpful" {
		t.Errorf("expected leading system message, got %+v", got[0])
	}
	if got[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("expected user role, got %q", got[1].Role)
	}

	if got[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("expected assistant role, got %q", got[2].Role)
	}
	if len(got[2].ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", got[2].ToolCalls)
	}
	tc := got[2].ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "shell_cmd" || tc.Function.Arguments != `{"command":"ls"}` {
		t.Errorf("unexpected tool call %+v", tc)
	}

	if got[3].Role != openai.ChatMessageRoleTool || got[3].ToolCallID != "call_1" {
		t.Errorf("expected tool message for call_1, got %+v", got[3])
	}
}

func TestConvertOpenAIMessages_NoSystemWhenEmpty(t *testing.T) {
	got := convertOpenAIMessages([]Message{{Role: models.RoleUser, Content: "hi"}}, "")
	if len(got) != 1 || got[0].Role != openai.ChatMessageRoleUser {
		t.Fatalf("expected just the user message, got %+v", got)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := []ToolDefinition{
		{Name: "shell_cmd", Description: "run a command", Schema: json.RawMessage(`{"type":"object"}`)},
		{Name: "load_skill", Description: "load a skill", Schema: json.RawMessage(`{"type":"object"}`)},
	}

	got := convertOpenAITools(tools)
	if len(got) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(got))
	}
	for i, tool := range tools {
		if got[i].Type != openai.ToolTypeFunction {
			t.Errorf("tool %d: expected function type, got %q", i, got[i].Type)
		}
		if got[i].Function.Name != tool.Name || got[i].Function.Description != tool.Description {
			t.Errorf("tool %d: unexpected definition %+v", i, got[i].Function)
		}
	}
}

func TestSortInts(t *testing.T) {
	xs := []int{3, 0, 2, 1}
	sortInts(xs)
	for i, want := range []int{0, 1, 2, 3} {
		if xs[i] != want {
			t.Fatalf("expected sorted ints, got %v", xs)
		}
	}
}
