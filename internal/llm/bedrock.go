package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentworld/runtime/pkg/models"
)

// BedrockProvider implements Provider against the Bedrock Converse
// streaming API: client construction from an explicit static-credentials
// chain falling back to the default chain, the ConverseStreamInput shape
// (System as a SystemContentBlockMemberText, ToolConfig from a tool
// list, inference config carrying MaxTokens), convertBedrockMessages's
// content-block assembly (text + tool_use + tool_result blocks,
// document.NewLazyDocument for tool input/output), and an event-driven
// assembly of ContentBlockStart/Delta/Stop into the same
// accumulate-then-flush shape anthropic.go uses.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures NewBedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// NewBedrockProvider constructs a Provider backed by the AWS SDK's
// bedrockruntime client. When AccessKeyID is empty the default AWS
// credential chain (env, shared config, instance role) is used instead.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("llm: bedrock region is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: load aws config: %w", err)
	}

	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg), defaultModel: cfg.DefaultModel}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Stream(ctx context.Context, req *Request) (<-chan *StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	msgs, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: convert messages: %w", err)
	}

	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(maxTokens),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if toolConfig := convertBedrockTools(req.Tools); toolConfig != nil {
		input.ToolConfig = toolConfig
	}

	resp, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("llm: start bedrock converse stream: %w", err)
	}

	out := make(chan *StreamEvent)
	go processBedrockStream(ctx, resp, out)
	return out, nil
}

func convertBedrockMessages(messages []Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}

		if msg.Role == models.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Content}},
				},
			})
		}

		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if len(tc.Function.Arguments) > 0 {
				if err := json.Unmarshal(tc.Function.Arguments, &inputDoc); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Function.Name, err)
				}
			} else {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Function.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}

	return result, nil
}

func convertBedrockTools(tools []ToolDefinition) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		var schemaDoc any
		if err := json.Unmarshal(tool.Schema, &schemaDoc); err != nil {
			schemaDoc = map[string]any{"type": "object"}
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

// processBedrockStream assembles Bedrock's ContentBlockStart/Delta/Stop
// event stream into this package's StreamEvent union, mirroring
// processAnthropicStream's accumulate-then-flush shape.
func processBedrockStream(ctx context.Context, resp *bedrockruntime.ConverseStreamOutput, out chan<- *StreamEvent) {
	defer close(out)

	stream := resp.GetStream()
	defer stream.Close()

	var toolCalls []models.ToolCall
	var currentToolCall *models.ToolCall
	var currentArgs strings.Builder
	var usage models.TokenUsage

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- &StreamEvent{Type: EventError, Err: ctx.Err()}
			return

		case event, ok := <-events:
			if !ok {
				if currentToolCall != nil {
					currentToolCall.Function.Arguments = json.RawMessage(currentArgs.String())
					toolCalls = append(toolCalls, *currentToolCall)
					currentToolCall = nil
				}
				if err := stream.Err(); err != nil {
					out <- &StreamEvent{Type: EventError, Err: fmt.Errorf("llm: bedrock stream: %w", err)}
					return
				}
				if len(toolCalls) > 0 {
					out <- &StreamEvent{Type: EventToolCalls, ToolCalls: toolCalls}
				}
				out <- &StreamEvent{Type: EventEnd, FinishReason: "stop", Usage: usage}
				return
			}

			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Type: "function",
						Function: models.ToolCallFunction{
							Name: aws.ToString(toolUse.Value.Name),
						},
					}
					currentArgs.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if d.Value != "" {
						out <- &StreamEvent{Type: EventChunk, Delta: d.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if d.Value.Input != nil {
						currentArgs.WriteString(aws.ToString(d.Value.Input))
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil {
					currentToolCall.Function.Arguments = json.RawMessage(currentArgs.String())
					toolCalls = append(toolCalls, *currentToolCall)
					currentToolCall = nil
				}

			case *types.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					usage.PromptTokens = int(aws.ToInt32(v.Value.Usage.InputTokens))
					usage.CompletionTokens = int(aws.ToInt32(v.Value.Usage.OutputTokens))
					usage.TotalTokens = int(aws.ToInt32(v.Value.Usage.TotalTokens))
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				if currentToolCall != nil {
					currentToolCall.Function.Arguments = json.RawMessage(currentArgs.String())
					toolCalls = append(toolCalls, *currentToolCall)
					currentToolCall = nil
				}
				if len(toolCalls) > 0 {
					out <- &StreamEvent{Type: EventToolCalls, ToolCalls: toolCalls}
				}
				out <- &StreamEvent{Type: EventEnd, FinishReason: "stop", Usage: usage}
				return
			}
		}
	}
}
