package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentworld/runtime/internal/tools"
)

// proxyTool adapts one MCP-advertised tool to the tools.Tool interface,
// namespaced by server ID so two servers can both expose, say, "search".
type proxyTool struct {
	serverID string
	client   *Client
	def      *Tool
}

func (p *proxyTool) Name() string {
	return fmt.Sprintf("%s.%s", p.serverID, p.def.Name)
}

func (p *proxyTool) Description() string {
	return p.def.Description
}

func (p *proxyTool) Schema() json.RawMessage {
	if len(p.def.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return p.def.InputSchema
}

// RequiresApproval is always false here: approval-worthiness of an
// external tool is a world/agent policy decision, not something this
// client can infer from the server.
func (p *proxyTool) RequiresApproval() bool { return false }

func (p *proxyTool) Execute(ctx context.Context, rt *tools.RuntimeContext, rawArgs json.RawMessage) (*tools.Result, error) {
	result, err := p.client.CallTool(ctx, p.def.Name, rawArgs)
	if err != nil {
		return tools.ErrorResult("mcp call %s: %v", p.Name(), err), nil
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &tools.Result{Content: text.String(), IsError: result.IsError}, nil
}
