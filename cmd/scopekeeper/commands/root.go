package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scopekeeper/pkg/scope"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Exit codes: 0 success, 1 usage/configuration problems, 2 partial
// finalization failure, 3 lock contention, 4 protected-stage refusal.
const (
	exitOK        = 0
	exitError     = 1
	exitPartial   = 2
	exitLocked    = 3
	exitProtected = 4
)

// errPartialFailure marks a run whose report contains failed resources.
var errPartialFailure = errors.New("some resources could not be deleted")

// ExitCode maps an execution error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errPartialFailure):
		return exitPartial
	case scope.IsLockTimeout(err):
		return exitLocked
	case scope.IsProtectedStage(err):
		return exitProtected
	default:
		return exitError
	}
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scopekeeper",
		Short: "Scopekeeper - scoped state tracking and finalization",
		Long: `Scopekeeper tracks which infrastructure resources belong to which
deployment scope, persists that ownership durably, guards it against
concurrent mutation, and tears it down safely when a scope is no longer
needed.

Scopes form a hierarchy: application / stage / arbitrarily nested
sub-scopes. Finalization walks that tree bottom-up, deleting resources
through the configured provisioner with bounded retries and producing a
structured report.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newFinalizeCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
