package main

import (
	"github.com/spf13/cobra"
)

// buildSessionsCmd creates the "sessions" command group: a thin HTTP
// client over a running "agentscriptd serve" instance's session API.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and control sessions on a running broker server",
	}
	cmd.PersistentFlags().String("server", "http://localhost:8080", "Base URL of the agentscriptd server")
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsGetCmd(), buildSessionsCancelCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List in-flight sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			return runSessionsList(cmd, server)
		},
	}
}

func buildSessionsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one session's current state and stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			return runSessionsGet(cmd, server, args[0])
		},
	}
}

func buildSessionsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			return runSessionsCancel(cmd, server, args[0])
		},
	}
}
