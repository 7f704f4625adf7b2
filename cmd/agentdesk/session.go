package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/agentdesk/internal/auth"
	"github.com/szaher/agentdesk/internal/client"
)

// apiClient builds a REST client for a running server. The API key comes
// from the flag or the AGENTDESK_API_KEY environment variable.
func apiClient(serverURL, apiKey string) *client.Client {
	if apiKey == "" {
		apiKey = auth.KeyFromEnv()
	}
	var opts []client.Option
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	return client.New(serverURL, opts...)
}

func newSessionCmd() *cobra.Command {
	var (
		serverURL string
		apiKey    string
	)

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage sessions on a running server",
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (or AGENTDESK_API_KEY)")

	newClient := func() *client.Client { return apiClient(serverURL, apiKey) }

	cmd.AddCommand(newSessionListCmd(newClient))
	cmd.AddCommand(newSessionShowCmd(newClient))
	cmd.AddCommand(newSessionDeleteCmd(newClient))
	cmd.AddCommand(newSessionStatsCmd(newClient))
	cmd.AddCommand(newSessionCleanupCmd(newClient))

	return cmd
}

func newSessionListCmd(newClient func() *client.Client) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := newClient().ListSessions(context.Background(), userID)
			if err != nil {
				return err
			}

			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			fmt.Printf("%-28s %-16s %-8s %-20s %s\n", "ID", "USER", "QUERIES", "LAST ACTIVE", "CREATED")
			for _, s := range sessions {
				user := s.UserID
				if user == "" {
					user = "-"
				}
				queries := s.Metadata["query_count"]
				if queries == "" {
					queries = "0"
				}
				fmt.Printf("%-28s %-16s %-8s %-20s %s\n",
					s.ID, user, queries,
					s.LastActiveAt.Local().Format(time.DateTime),
					s.CreatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "List sessions for this user (empty lists anonymous sessions)")

	return cmd
}

func newSessionShowCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newClient().GetSession(context.Background(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("ID:           %s\n", sess.ID)
			if sess.UserID != "" {
				fmt.Printf("User:         %s\n", sess.UserID)
			}
			fmt.Printf("Created:      %s\n", sess.CreatedAt.Local().Format(time.DateTime))
			fmt.Printf("Last active:  %s\n", sess.LastActiveAt.Local().Format(time.DateTime))
			for k, v := range sess.Metadata {
				fmt.Printf("Metadata:     %s=%s\n", k, v)
			}
			if sess.Context.LastQuery != "" {
				fmt.Printf("Last query:   %s\n", sess.Context.LastQuery)
				fmt.Printf("Last answer:  %s\n", sess.Context.LastResponse)
				fmt.Printf("Took:         %s\n", sess.Context.LastDuration)
			}
			if sess.Context.ErrorCount > 0 {
				fmt.Printf("Errors:       %d (last: %s)\n", sess.Context.ErrorCount, sess.Context.LastError)
			}
			return nil
		},
	}
}

func newSessionDeleteCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeleteSession(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Session %s deleted.\n", args[0])
			return nil
		},
	}
}

func newSessionStatsCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show session store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := newClient().Stats(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Active sessions:  %d\n", stats.ActiveCount)
			fmt.Printf("Unique users:     %d\n", stats.UniqueUsers)
			fmt.Printf("Expired pending:  %d\n", stats.ExpiredPending)
			fmt.Printf("Oldest session:   %s\n", stats.OldestSessionAge)
			fmt.Printf("Storage:          %s\n", stats.StorageType)
			fmt.Printf("Timeout:          %s\n", stats.Timeout)
			if stats.LastSweepAt.IsZero() {
				fmt.Printf("Last sweep:       never\n")
			} else {
				fmt.Printf("Last sweep:       %s (removed %d)\n",
					stats.LastSweepAt.Local().Format(time.DateTime), stats.LastSweepRemoved)
			}
			return nil
		},
	}
}

func newSessionCleanupCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Sweep expired sessions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := newClient().Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired sessions.\n", removed)
			return nil
		},
	}
}
