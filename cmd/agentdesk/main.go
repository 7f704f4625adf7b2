// Package main is the entry point for the agentdesk CLI tool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/agentdesk/internal/config"
	"github.com/szaher/agentdesk/internal/secrets"
	"github.com/szaher/agentdesk/internal/telemetry"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentdesk",
		Short: "LLM query pipelines with tracked conversation sessions",
		Long: `Agentdesk routes natural-language queries to LLM pipelines and keeps
each conversation in a session store with per-user quotas and idle
expiry. It runs as an HTTP API server or as a one-shot CLI, and ships
a client for inspecting sessions on a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default "+config.DefaultFile+" when present)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose output")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newAgentsCmd())
	root.AddCommand(newSessionCmd())

	return root
}

// newLogger builds the process logger. Load has already validated the
// configured level; --verbose forces debug. Configured secrets are
// scrubbed from all output.
func newLogger(cfg config.Config) *slog.Logger {
	level, _ := cfg.Logging.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	filter := secrets.NewRedactFilter(telemetry.NewLogger(os.Stderr, level).Handler())
	filter.AddSecret(cfg.Server.APIKey)
	filter.AddSecret(cfg.Sessions.PostgresDSN)
	return slog.New(filter)
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
