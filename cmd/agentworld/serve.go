package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/agentworld/runtime/internal/approval"
	"github.com/agentworld/runtime/internal/config"
	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/internal/llm"
	"github.com/agentworld/runtime/internal/manager"
	"github.com/agentworld/runtime/internal/memory"
	"github.com/agentworld/runtime/internal/observability"
	"github.com/agentworld/runtime/internal/orchestrator"
	"github.com/agentworld/runtime/internal/skills"
	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/internal/tools/mcp"
)

// buildServeCmd creates the "serve" command that starts the runtime's
// HTTP/SSE/websocket surface for every configured world.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		streaming  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentworld runtime",
		Long: `Start the agentworld runtime: loads configuration, opens the event
store, wires the LLM providers, tools, and orchestrator, and serves HTTP,
SSE, and websocket endpoints until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, streaming)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&streaming, "streaming", true, "Stream partial LLM output over SSE as it arrives")

	return cmd
}

// runServe implements the serve command: configuration load, component
// wiring, and signal-driven graceful shutdown.
func runServe(ctx context.Context, configPath string, debug, streaming bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("configuration loaded", "storage_type", cfg.Storage.Type, "addr", cfg.Server.Addr())

	es, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer es.Close()

	bus := eventbus.New(es)
	memManager := memory.New(es)
	hitlTable := approval.NewHITLTable()
	approvalChecker := approval.NewChecker(memManager, cfg.Turn.ApprovalTimeout)

	skillsManager, err := skills.NewManager()
	if err != nil {
		return fmt.Errorf("init skills manager: %w", err)
	}
	defer skillsManager.Close()

	registry := llm.NewRegistry(buildProviders(ctx, cfg, logger)...)

	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "agentworld",
	})
	defer shutdownTracer(context.Background())

	worldManager := manager.New(bus, es, hitlTable, nil)

	toolRegistry := buildToolRegistry(worldManager, hitlTable, skillsManager)
	mcpManager := mcp.NewManager(logger)
	defer mcpManager.Close()

	orch := orchestrator.New(orchestrator.Options{
		Bus:               bus,
		Store:             es,
		Memory:            memManager,
		Approval:          approvalChecker,
		Tools:             toolRegistry,
		LLM:               registry,
		Skills:            skillsManager,
		Worlds:            worldManager,
		Metrics:           metrics,
		Tracer:            tracer,
		Logger:            logger,
		MaxToolIterations: cfg.Turn.MaxToolIterations,
		DisableStreaming:  !streaming,
	})

	// worldManager.EditUserMessage resubmits through the orchestrator,
	// but the orchestrator needs worldManager as its WorldProvider: wire
	// the circular reference now that both exist.
	worldManager.SetDispatcher(orch)

	srv := newHTTPServer(serverDeps{
		addr:         cfg.Server.Addr(),
		manager:      worldManager,
		orchestrator: orch,
		bus:          bus,
		store:        es,
		hitl:         hitlTable,
		metrics:      metrics,
		mcp:          mcpManager,
		tools:        toolRegistry,
	}, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	logger.Info("agentworld runtime started", "addr", cfg.Server.Addr())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("agentworld runtime stopped")
	return nil
}

// openStore resolves cfg.Storage.Type into a concrete internal/store
// backend: "memory" for local/dev use, anything else delegates to
// internal/store.Open's driver sniffing on the DSN.
func openStore(ctx context.Context, cfg *config.Config) (store.EventStore, error) {
	if cfg.Storage.Type == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.Open(ctx, cfg.Storage.DSN)
}

// buildProviders constructs one llm.Provider per credentialed entry in
// cfg.Provider, skipping any provider whose required credential is
// empty rather than failing the whole runtime over one missing key.
func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) []llm.Provider {
	var providers []llm.Provider

	if cfg.Provider.Anthropic.APIKey != "" {
		p, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       cfg.Provider.Anthropic.APIKey,
			BaseURL:      cfg.Provider.Anthropic.BaseURL,
			DefaultModel: cfg.Provider.Anthropic.DefaultModel,
		})
		if err != nil {
			logger.Warn("anthropic provider disabled", "error", err)
		} else {
			providers = append(providers, p)
		}
	}

	if cfg.Provider.OpenAI.APIKey != "" {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       cfg.Provider.OpenAI.APIKey,
			BaseURL:      cfg.Provider.OpenAI.BaseURL,
			DefaultModel: cfg.Provider.OpenAI.DefaultModel,
		})
		if err != nil {
			logger.Warn("openai provider disabled", "error", err)
		} else {
			providers = append(providers, p)
		}
	}

	if cfg.Provider.Bedrock.Region != "" {
		p, err := llm.NewBedrockProvider(ctx, llm.BedrockConfig{
			Region:          cfg.Provider.Bedrock.Region,
			AccessKeyID:     cfg.Provider.Bedrock.AccessKeyID,
			SecretAccessKey: cfg.Provider.Bedrock.SecretAccessKey,
			SessionToken:    cfg.Provider.Bedrock.SessionToken,
			DefaultModel:    cfg.Provider.Bedrock.DefaultModel,
		})
		if err != nil {
			logger.Warn("bedrock provider disabled", "error", err)
		} else {
			providers = append(providers, p)
		}
	}

	return providers
}

// buildToolRegistry registers every built-in tool, sharing one registry
// across all worlds: each world's agents see the same tool names, with
// the approval gate and working-directory scoping (RuntimeContext) doing
// the per-world narrowing at execution time rather than per-world
// registration. MCP servers are bridged into this same registry per
// world via internal/tools/mcp.Manager.RegisterWorld once a world
// declares them in its MCPConfig.
func buildToolRegistry(worldManager *manager.Manager, hitlTable *approval.HITLTable, skillsManager *skills.Manager) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.NewShellTool())
	registry.Register(tools.NewLoadSkillTool(skillsManager))
	registry.Register(tools.NewHITLRequestTool(manager.NewHITLEnqueuer(hitlTable)))
	registry.Register(tools.NewCreateAgentTool(worldManager))
	return registry
}
