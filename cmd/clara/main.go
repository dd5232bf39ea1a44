// Package main is the CLI entry point for the Clara gateway.
//
// Clara multiplexes platform adapters over a WebSocket transport onto a
// conversational LLM engine with session persistence, semantic memory,
// and tool execution.
//
// Start the gateway:
//
//	clara serve --config clara.yaml
//
// Configuration values may reference environment variables with ${VAR}
// syntax; ANTHROPIC_API_KEY and OPENAI_API_KEY are the usual ones.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clara",
		Short: "Clara - conversational gateway core",
		Long: `Clara connects platform adapters to LLM providers with session
persistence, semantic memory, and tool execution.

Adapters speak a typed WebSocket protocol; see the protocol reference
for the frame catalog.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clara %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
