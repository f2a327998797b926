// Package main provides the CLI entry point for tgate, a multi-account
// Telegram gateway.
//
// # Basic Usage
//
// Start the gateway:
//
//	tgate serve --config tgate.yaml
//
// Inspect stored polling offsets:
//
//	tgate offsets show
//
// Validate a configuration file:
//
//	tgate check-config --config tgate.yaml
//
// # Environment Variables
//
//   - TGATE_CONFIG: Path to configuration file (default: tgate.yaml)
//
// Bot tokens are usually supplied through ${ENV} references in the config.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
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

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tgate",
		Short: "tgate - multi-account Telegram gateway",
		Long: `tgate runs one or more Telegram bot accounts, gates inbound messages
through per-account access policy, and publishes normalized events for an
agent to answer. Replies are rendered to Telegram HTML, chunked, and can be
streamed as in-place draft edits.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildOffsetsCmd(),
		buildCheckConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tgate %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
