package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentscript/internal/script/preset"
)

var allLevels = []preset.Level{
	preset.LevelStrict,
	preset.LevelSecure,
	preset.LevelStandard,
	preset.LevelPermissive,
}

// buildPresetsCmd creates the "presets" command group for inspecting the
// built-in security levels without having to run a script against them.
func buildPresetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Inspect the built-in security presets",
	}
	cmd.AddCommand(buildPresetsListCmd(), buildPresetsShowCmd())
	return cmd
}

func buildPresetsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available security levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, level := range allLevels {
				fmt.Fprintln(out, string(level))
			}
			return nil
		},
	}
}

func buildPresetsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <level>",
		Short: "Show a security level's compiled rule options and limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := preset.Level(strings.ToUpper(strings.TrimSpace(args[0])))
			found := false
			for _, l := range allLevels {
				if l == level {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("unknown level %q (expected one of STRICT, SECURE, STANDARD, PERMISSIVE)", args[0])
			}

			p := preset.NewBuilder(level).Build()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "level:            %s\n", p.Level)
			fmt.Fprintf(out, "profile:          %s\n", p.Profile)
			fmt.Fprintf(out, "max iterations:   %d\n", p.Limits.MaxIterations)
			fmt.Fprintf(out, "timeout:          %dms\n", p.Limits.TimeoutMs)
			fmt.Fprintf(out, "unbounded loops:  %t\n", p.RuleOpts.UnboundedLoopsAllowed)
			fmt.Fprintf(out, "allowed loops:    %s\n", strings.Join(sortedKeys(p.RuleOpts.AllowedLoops), ", "))
			fmt.Fprintf(out, "allowed globals:  %s\n", strings.Join(sortedKeys(p.RuleOpts.AllowedGlobals), ", "))
			if len(p.RuleOpts.ToolNameAllowlist) > 0 {
				fmt.Fprintf(out, "tool allowlist:   %s\n", strings.Join(p.RuleOpts.ToolNameAllowlist, ", "))
			}
			return nil
		},
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
