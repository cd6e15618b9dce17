// Package main provides the rye CLI: an execution substrate for signed,
// LLM-driven directives.
//
// # Basic Usage
//
// Run a directive as a managed thread:
//
//	rye run my-team/review --input repo=.
//
// Sign and verify items:
//
//	rye sign .ai/directives/my-team/review.md
//	rye verify .ai/tools/my-team/lint.yaml
//
// Build and check bundle manifests:
//
//	rye bundle create --id core --root ./bundle
//	rye bundle verify --root ./bundle
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: provider credentials
//   - USER_SPACE: user space root (default: $HOME)
//   - RYE_PROVIDER, RYE_MODEL, RYE_BASE_URL, RYE_DEBUG: config overrides
//   - RYE_PYTHON, RYE_NODE: interpreter pins for script tools
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rye",
		Short: "Rye - execution substrate for signed LLM directives",
		Long: `Rye runs signed directives as managed conversational threads with
capability checks, budget ledgers, and integrity-verified tool chains.

Items resolve across three spaces: project (./.ai), user
(${USER_SPACE:-$HOME}/.ai), and registered system bundles.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSignCmd(),
		buildVerifyCmd(),
		buildBundleCmd(),
		buildKeysCmd(),
		buildThreadsCmd(),
	)
	return rootCmd
}
