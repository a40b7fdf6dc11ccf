package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentworld/runtime/pkg/models"
)

// OpenAIProvider implements Provider against the Chat Completions
// streaming API: message/tool conversion via convertOpenAIMessages/
// convertOpenAITools, and index-keyed tool-call accumulation in
// processOpenAIStream, since OpenAI streams a tool call's id/name/arguments
// across several deltas keyed by index rather than Anthropic's single
// content-block-scoped accumulation.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures NewOpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewOpenAIProvider constructs a Provider backed by go-openai.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), defaultModel: cfg.DefaultModel}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("llm: create openai stream: %w", err)
	}

	out := make(chan *StreamEvent)
	go processOpenAIStream(ctx, stream, out)
	return out, nil
}

func convertOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: string(tc.Function.Arguments),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func convertOpenAITools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  json.RawMessage(tool.Schema),
			},
		}
	}
	return result
}

// processOpenAIStream accumulates OpenAI's index-keyed tool_call deltas
// (id/name/arguments arrive in separate chunks, unlike Anthropic's
// single-block accumulation) and emits EventToolCalls once the stream
// reports finish_reason="tool_calls" or ends.
func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- *StreamEvent) {
	defer close(out)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var usage models.TokenUsage

	flushToolCalls := func() []models.ToolCall {
		if len(toolCalls) == 0 {
			return nil
		}
		indices := make([]int, 0, len(toolCalls))
		for idx := range toolCalls {
			indices = append(indices, idx)
		}
		sortInts(indices)
		calls := make([]models.ToolCall, 0, len(indices))
		for _, idx := range indices {
			calls = append(calls, *toolCalls[idx])
		}
		return calls
	}

	for {
		select {
		case <-ctx.Done():
			out <- &StreamEvent{Type: EventError, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if calls := flushToolCalls(); calls != nil {
				out <- &StreamEvent{Type: EventToolCalls, ToolCalls: calls}
			}
			out <- &StreamEvent{Type: EventEnd, FinishReason: "stop", Usage: usage}
			return
		}
		if err != nil {
			out <- &StreamEvent{Type: EventError, Err: fmt.Errorf("llm: openai stream: %w", err)}
			return
		}
		if resp.Usage != nil {
			usage = models.TokenUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			out <- &StreamEvent{Type: EventChunk, Delta: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &models.ToolCall{Type: "function"}
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Function.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Function.Arguments = append(toolCalls[idx].Function.Arguments, []byte(tc.Function.Arguments)...)
			}
		}

		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			if calls := flushToolCalls(); calls != nil {
				out <- &StreamEvent{Type: EventToolCalls, ToolCalls: calls}
			}
			toolCalls = make(map[int]*models.ToolCall)
		}
	}
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
