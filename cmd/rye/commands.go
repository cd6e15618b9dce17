// commands.go contains the cobra command definitions and their flag
// configurations. Each builder wires a command to its handler.
package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

func buildRunCmd() *cobra.Command {
	var (
		projectDir string
		inputs     []string
		model      string
		maxTurns   int
		spendLimit float64
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run <directive-id>",
		Short: "Run a directive as a managed thread",
		Long: `Run loads a signed directive, spawns a thread with the directive's
declared capabilities and budgets, and drives the LLM loop until the
thread reaches a terminal status. The transcript is persisted as a
signed knowledge item under agent/threads/.`,
		Example: `  # Run with inputs
  rye run my-team/review --input repo=. --input branch=main

  # Cap the run
  rye run my-team/review --max-turns 10 --spend-limit 2.50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDirective(cmd.Context(), runOptions{
				projectDir: projectDir,
				directive:  args[0],
				inputs:     inputs,
				model:      model,
				maxTurns:   maxTurns,
				spendLimit: spendLimit,
				debug:      debug,
			})
		},
	}

	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: working directory)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Directive input as key=value (repeatable)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id override")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Override the directive's turn limit")
	cmd.Flags().Float64Var(&spendLimit, "spend-limit", 0, "Override the directive's spend limit (USD)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Sign / Verify Commands
// =============================================================================

func buildSignCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "sign <file>...",
		Short: "Sign items with your key",
		Long: `Sign appends an inline signature comment to each file using the
signing key from the user space. Re-signing replaces your previous
signature for the same key.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(projectDir, args)
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: working directory)")
	return cmd
}

func buildVerifyCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "verify <file>...",
		Short: "Verify item signatures against the trust stores",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(projectDir, args)
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: working directory)")
	return cmd
}

// =============================================================================
// Bundle Commands
// =============================================================================

func buildBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Build and verify signed bundle manifests",
	}
	cmd.AddCommand(buildBundleCreateCmd(), buildBundleVerifyCmd())
	return cmd
}

func buildBundleCreateCmd() *cobra.Command {
	var (
		root       string
		bundleID   string
		visibility []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Build and sign a bundle manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundleCreate(root, bundleID, visibility)
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "Directory containing the bundle's .ai tree")
	cmd.Flags().StringVar(&bundleID, "id", "", "Bundle id (default: root directory name)")
	cmd.Flags().StringArrayVar(&visibility, "visibility", nil, "Category prefix the bundle exposes (repeatable; empty = all)")
	return cmd
}

func buildBundleVerifyCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a bundle against its signed manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBundleVerify(root)
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "Directory containing the bundle's .ai tree")
	return cmd
}

// =============================================================================
// Keys Commands
// =============================================================================

func buildKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys and the trust store",
	}
	cmd.AddCommand(buildKeysGenerateCmd(), buildKeysTrustCmd())
	return cmd
}

func buildKeysGenerateCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a signing key and trust it in the user space",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysGenerate(name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Identity name for the trust document (default: $USER)")
	return cmd
}

func buildKeysTrustCmd() *cobra.Command {
	var (
		projectDir string
		name       string
		toProject  bool
	)

	cmd := &cobra.Command{
		Use:   "trust <public-key.pem>",
		Short: "Trust a public key in the user or project space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysTrust(projectDir, args[0], name, toProject)
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: working directory)")
	cmd.Flags().StringVar(&name, "name", "", "Identity name for the trust document")
	cmd.Flags().BoolVar(&toProject, "project-space", false, "Write to the project trust store instead of the user's")
	return cmd
}

// =============================================================================
// Threads Commands
// =============================================================================

func buildThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and resume persisted threads",
	}
	cmd.AddCommand(
		buildThreadsListCmd(),
		buildThreadsStatusCmd(),
		buildThreadsCancelCmd(),
		buildThreadsResumeCmd(),
	)
	return cmd
}

func buildThreadsListCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted thread transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsList(projectDir)
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: working directory)")
	return cmd
}

func buildThreadsStatusCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "status <thread-id>",
		Short: "Show a persisted thread's terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsStatus(projectDir, args[0])
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: working directory)")
	return cmd
}

func buildThreadsCancelCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "cancel <thread-id>",
		Short: "Cancel a thread running in this process",
		Long: `Cancel aborts a thread in the current orchestrator. Threads run
in-process, so only threads spawned by this invocation (for example from
a script embedding rye) can be cancelled; persisted threads from earlier
runs are already terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsCancel(projectDir, args[0])
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: working directory)")
	return cmd
}

func buildThreadsResumeCmd() *cobra.Command {
	var (
		projectDir string
		message    string
	)

	cmd := &cobra.Command{
		Use:   "resume <thread-id>",
		Short: "Rehydrate a thread from its transcript and continue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsResume(cmd.Context(), projectDir, args[0], message)
		},
	}
	cmd.Flags().StringVarP(&projectDir, "project", "p", "", "Project directory (default: working directory)")
	cmd.Flags().StringVarP(&message, "message", "m", "Continue where you left off.", "Message delivered on resume")
	return cmd
}
