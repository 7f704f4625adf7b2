package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/agentdesk/internal/agent"
	"github.com/szaher/agentdesk/internal/config"
	"github.com/szaher/agentdesk/internal/session"
)

func newQueryCmd() *cobra.Command {
	var (
		agentType string
		sessionID string
		userID    string
		showLogs  bool
	)

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Process a query locally and print the answer",
		Long: `Runs one query through the configured pipeline without an HTTP server.
With durable session storage, --session continues a conversation across
invocations.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query text is empty")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := session.Open(ctx, storeConfig(cfg), session.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			svc := buildService(cfg, store, logger, nil)
			resp, err := svc.Process(ctx, agent.Query{
				Query:     query,
				AgentType: agentType,
				SessionID: sessionID,
				UserID:    userID,
			})
			if err != nil {
				return err
			}

			fmt.Println(resp.Answer)

			if showLogs {
				fmt.Println("\nLogs:")
				for i, line := range resp.Logs {
					fmt.Printf("%d. %s\n", i+1, line)
				}
			}
			if verbose {
				fmt.Printf("\nAgent: %v | Session: %v | Time: %vs\n",
					resp.Metadata["agent_name"], resp.Metadata["session_id"], resp.Metadata["execution_time"])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentType, "agent-type", "", "Agent type to use (default from config)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to continue")
	cmd.Flags().StringVar(&userID, "user", "", "User ID owning the session")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "Show execution logs")

	return cmd
}
