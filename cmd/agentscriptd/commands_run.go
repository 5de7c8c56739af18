package main

import (
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command: parse, validate, and execute one
// script to completion, printing its event stream as NDJSON to stdout.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		scriptPath string
		level      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single script and print its event stream",
		Long: `Run a script through the full parse/validate/rewrite/execute pipeline and
print every event it emits, one NDJSON line per event, ending with exactly
one session_init and exactly one final.

The script is read from --script, or from stdin if --script is omitted.`,
		Example: `  agentscriptd run --script ./greet.js --level STANDARD
  cat greet.js | agentscriptd run --level STRICT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, resolveConfigPath(configPath), scriptPath, level)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (optional)")
	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "Path to the script file (default: stdin)")
	cmd.Flags().StringVarP(&level, "level", "l", "", "Security level override (STRICT, SECURE, STANDARD, PERMISSIVE)")

	return cmd
}
