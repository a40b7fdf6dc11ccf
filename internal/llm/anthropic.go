package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentworld/runtime/pkg/models"
)

// AnthropicProvider implements Provider against the Anthropic Messages
// streaming API: SDK client construction via option.WithAPIKey/
// WithBaseURL, convertAnthropicMessages/convertAnthropicTools building
// text + tool_use + tool_result content blocks, and an event-driven
// assembly of streamed tool calls off content_block_start/delta/stop
// events in processAnthropicStream,
// folded into the three-shape StreamEvent union.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures NewAnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider constructs a Provider backed by the Anthropic SDK.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), defaultModel: cfg.DefaultModel}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan *StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	msgs, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: convert messages: %w", err)
	}
	toolParams, err := convertAnthropicTools(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("llm: convert tools: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan *StreamEvent)
	go processAnthropicStream(stream, out)
	return out, nil
}

func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Function.Arguments) > 0 {
				if err := json.Unmarshal(tc.Function.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Function.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

// processAnthropicStream assembles Anthropic's content_block_start/delta/
// stop event stream into this package's StreamEvent union, closing out on
// message_stop or the first error.
func processAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- *StreamEvent) {
	defer close(out)

	var toolCalls []models.ToolCall
	var currentToolCall *models.ToolCall
	var currentArgs strings.Builder
	var usage models.TokenUsage

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.PromptTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Type: "function", Function: models.ToolCallFunction{Name: toolUse.Name}}
				currentArgs.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- &StreamEvent{Type: EventChunk, Delta: delta.Text}
				}
			case "input_json_delta":
				currentArgs.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Function.Arguments = json.RawMessage(currentArgs.String())
				toolCalls = append(toolCalls, *currentToolCall)
				currentToolCall = nil
			}

		case "message_delta":
			md := event.AsMessageDelta()
			usage.CompletionTokens = int(md.Usage.OutputTokens)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

		case "message_stop":
			if len(toolCalls) > 0 {
				out <- &StreamEvent{Type: EventToolCalls, ToolCalls: toolCalls}
			}
			out <- &StreamEvent{Type: EventEnd, FinishReason: "stop", Usage: usage}
			return

		case "error":
			out <- &StreamEvent{Type: EventError, Err: fmt.Errorf("llm: anthropic stream error")}
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- &StreamEvent{Type: EventError, Err: fmt.Errorf("llm: anthropic stream: %w", err)}
		return
	}
	out <- &StreamEvent{Type: EventEnd, FinishReason: "stop", Usage: usage}
}
