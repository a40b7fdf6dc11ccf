package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/pkg/models"
)

// Manager owns one Client per connected MCP server and registers each
// server's tools into a per-world tools.Registry, driven by a world's
// mcpConfig entries.
type Manager struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[string]*Client // serverID -> client
}

// NewManager constructs an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

func toServerConfig(cfg models.MCPServerConfig) *ServerConfig {
	return &ServerConfig{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Transport: TransportType(cfg.Transport),
		Command:   cfg.Command,
		Args:      cfg.Args,
		Env:       cfg.Env,
		URL:       cfg.URL,
		Headers:   cfg.Headers,
		Timeout:   cfg.Timeout,
	}
}

// RegisterWorld connects to every server in a world's mcpConfig and
// registers their tools into registry. A server that fails to connect
// is logged and skipped so one unreachable external tool source doesn't
// block the rest of the world from loading.
func (m *Manager) RegisterWorld(ctx context.Context, worldID string, servers []models.MCPServerConfig, registry *tools.Registry) error {
	for _, serverCfg := range servers {
		cfg := toServerConfig(serverCfg)
		if err := cfg.Validate(); err != nil {
			m.logger.Error("invalid mcp server config", "world", worldID, "server", cfg.ID, "error", err)
			continue
		}

		client, err := m.connect(ctx, cfg)
		if err != nil {
			m.logger.Error("failed to connect to mcp server", "world", worldID, "server", cfg.ID, "error", err)
			continue
		}

		for _, def := range client.Tools() {
			registry.Register(&proxyTool{serverID: cfg.ID, client: client, def: def})
		}
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, cfg *ServerConfig) (*Client, error) {
	m.mu.RLock()
	existing, ok := m.clients[cfg.ID]
	m.mu.RUnlock()
	if ok {
		return existing, nil
	}

	client := NewClient(cfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.ID, err)
	}

	m.mu.Lock()
	m.clients[cfg.ID] = client
	m.mu.Unlock()
	return client, nil
}

// Close disconnects every connected server.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close mcp client", "server", id, "error", err)
		}
		delete(m.clients, id)
	}
	return nil
}
