package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/tgate/internal/config"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs every enabled account.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		stdio      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start polling every enabled Telegram account.

The server will:
1. Load and validate configuration
2. Open the offset store so polling resumes where it stopped
3. Start each account independently; one bad token does not stop the rest
4. Expose Prometheus metrics when metrics.addr is set

With --stdio, inbound events are written to stdout as JSON lines and
outbound requests are read from stdin as JSON lines.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  tgate serve

  # Pipe events to an agent process
  tgate serve --stdio --config /etc/tgate/tgate.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				configPath: configPath,
				debug:      debug,
				stdio:      stdio,
				in:         cmd.InOrStdin(),
				out:        cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "Exchange events and replies as JSON lines on stdin/stdout")
	return cmd
}

// =============================================================================
// Offsets Commands
// =============================================================================

func buildOffsetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsets",
		Short: "Inspect persisted polling offsets",
	}
	cmd.AddCommand(buildOffsetsShowCmd())
	return cmd
}

func buildOffsetsShowCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the last consumed update id per account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOffsetsShow(cmd.Context(), cmd.OutOrStdout(), configPath, asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildCheckConfigCmd() *cobra.Command {
	var (
		configPath string
		schema     bool
	)
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration file",
		Long: `Load the configuration with includes and environment expansion applied,
then report every validation issue. With --schema, print the JSON Schema
for the configuration file instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if schema {
				return runPrintSchema(cmd.OutOrStdout())
			}
			return runCheckConfig(cmd.OutOrStdout(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVar(&schema, "schema", false, "Print the configuration JSON Schema")
	return cmd
}
