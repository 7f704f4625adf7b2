package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	var (
		serverURL string
		apiKey    string
	)

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agent types on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := apiClient(serverURL, apiKey).Agents(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("%-12s %-28s %s\n", "TYPE", "NAME", "DESCRIPTION")
			for _, info := range catalog.Agents {
				fmt.Printf("%-12s %-28s %s\n", info.Type, info.Name, info.Description)
			}
			fmt.Printf("\nDefault: %s\n", catalog.DefaultType)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (or AGENTDESK_API_KEY)")

	return cmd
}
