package mcp

import (
	"context"
	"encoding/json"
)

// Transport is the wire-level JSON-RPC conversation with one MCP server.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
}

// NewTransport picks stdio or HTTP based on cfg.Transport.
func NewTransport(cfg *ServerConfig) Transport {
	if cfg.Transport == TransportHTTP {
		return NewHTTPTransport(cfg)
	}
	return NewStdioTransport(cfg)
}
