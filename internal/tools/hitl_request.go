package tools

import (
	"context"
	"encoding/json"
)

// HITLEnqueuer is the subset of internal/approval.HITLTable the
// hitl_request tool needs.
type HITLEnqueuer interface {
	Enqueue(worldID, prompt string, options []string, metadata map[string]any) (requestID string, err error)
}

// HITLRequestTool implements hitl_request: enqueues a generic
// human-in-the-loop option prompt and returns at once with status
// "pending" and the request id. It does not wait for the human's choice.
type HITLRequestTool struct {
	hitl HITLEnqueuer
}

// NewHITLRequestTool constructs the hitl_request tool.
func NewHITLRequestTool(hitl HITLEnqueuer) *HITLRequestTool {
	return &HITLRequestTool{hitl: hitl}
}

func (t *HITLRequestTool) Name() string          { return "hitl_request" }
func (t *HITLRequestTool) RequiresApproval() bool { return true }

func (t *HITLRequestTool) Description() string {
	return "Asks a human to choose among a fixed set of options before the agent continues."
}

func (t *HITLRequestTool) Schema() json.RawMessage {
	return schemaFor(&hitlRequestArgs{})
}

type hitlRequestArgs struct {
	Prompt  string   `json:"prompt" jsonschema:"required"`
	Options []string `json:"options" jsonschema:"required,minItems=1"`
}

func (t *HITLRequestTool) Execute(ctx context.Context, rt *RuntimeContext, rawArgs json.RawMessage) (*Result, error) {
	var args hitlRequestArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ErrorResult("invalid hitl_request arguments: %v", err), nil
	}
	if len(args.Options) == 0 {
		return ErrorResult("hitl_request requires at least one option; free-text is not supported"), nil
	}

	requestID, err := t.hitl.Enqueue(rt.WorldID, args.Prompt, args.Options, nil)
	if err != nil {
		return ErrorResult("enqueue hitl request: %v", err), nil
	}

	payload, _ := json.Marshal(map[string]string{"status": "pending", "request_id": requestID})
	return &Result{Content: string(payload)}, nil
}
