// Package main provides the CLI entry point for agentscriptd.
//
// agentscriptd runs agent-authored JavaScript-subset scripts inside the
// saferuntime/session/broker sandbox pipeline: one command parses and runs
// a single script to completion against stdout, another starts a
// long-lived broker fronted by a WebSocket API, and a third inspects the
// built-in security presets.
//
// # Basic Usage
//
// Run a script once and print its events:
//
//	agentscriptd run --script ./examples/greet.js --level STANDARD
//
// Start the broker server:
//
//	agentscriptd serve --config agentscript.yaml
//
// Inspect a security preset:
//
//	agentscriptd presets show STRICT
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentscript/internal/config"
	"github.com/haasonsaas/agentscript/internal/observability"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := observability.MustNewLogger(observability.LogConfig{Output: os.Stderr, Level: "info"})

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		logger.Error(context.Background(), "command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to make the command tree testable.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentscriptd",
		Short: "agentscriptd - sandboxed agent-script execution pipeline",
		Long: `agentscriptd parses, validates, and runs agent-authored JavaScript-subset
scripts inside a security-level sandbox. Scripts can only reach the outside
world through host tools dispatched over a fixed, budgeted protocol.

Security levels: STRICT, SECURE, STANDARD, PERMISSIVE`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildServeCmd(),
		buildPresetsCmd(),
		buildSessionsCmd(),
	)

	return rootCmd
}

// resolveConfigPath trims the given path and falls back to the default
// config file name when empty.
func resolveConfigPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "agentscript.yaml"
	}
	return path
}

// loadConfigOrDefault loads the config file at path; a missing file is
// not an error here, since agentscriptd is usable with zero config for
// local script runs. A present-but-invalid file still fails loudly.
func loadConfigOrDefault(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}
