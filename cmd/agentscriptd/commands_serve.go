package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command: a long-lived broker fronted
// by an HTTP API for creating sessions, streaming their events over
// WebSocket, listing and cancelling in-flight sessions, and exposing
// Prometheus metrics.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker server",
		Long: `Start a long-lived broker and serve it over HTTP:

  POST   /v1/sessions              create a session, run it in the background
  GET    /v1/sessions              list in-flight sessions
  GET    /v1/sessions/{id}         fetch one session's current state and stats
  GET    /v1/sessions/{id}/stream  upgrade to a WebSocket event stream
  POST   /v1/sessions/{id}/cancel  cancel a session
  GET    /healthz                  liveness probe
  GET    /metrics                  Prometheus exposition`,
		Example: `  agentscriptd serve --config agentscript.yaml
  agentscriptd serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (optional)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug-level logging")

	return cmd
}
