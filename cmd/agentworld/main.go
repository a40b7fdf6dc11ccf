// Command agentworld runs the Agent-World multi-agent runtime: a single
// process hosting every world's event store, orchestrator, and HTTP/SSE/
// websocket surface.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with every subcommand attached,
// separated from main so tests can invoke it directly.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentworld",
		Short: "Agent-World multi-agent orchestration runtime",
		Long: `agentworld hosts worlds of LLM-backed agents that converse with
each other and with humans over a shared event log, with approval-gated
tool execution, skill loading, and MCP tool bridging.`,
		Version:      version + " (commit: " + commit + ", built: " + date + ")",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
