package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scopekeeper/pkg/finalize"
)

func newFinalizeCommand() *cobra.Command {
	var (
		dryRun          bool
		force           bool
		all             bool
		strategy        string
		retryAttempts   int
		lockTimeout     time.Duration
		removeOnPartial bool
	)

	cmd := &cobra.Command{
		Use:   "finalize [<app>[/<stage>[/nested...]]]",
		Short: "Tear down a scope tree and delete its resources",
		Long: `Finalize a scope: recursively tear down its nested scopes, delete its
resources through the configured provisioner, and remove the persisted
state documents bottom-up.

Given only an application, every stage of that application is finalized
and the per-stage reports are aggregated. With no target at all, the
configured defaultApp is used. Protected stages refuse finalization
unless --force (or --dry-run) is given.

The command always prints a report when one was produced; the exit code
reflects the outcome (0 clean, 2 partial failure, 3 lock contention,
4 protected stage).`,
		Example: `  # Preview what tearing down a stage would delete
  scopekeeper finalize acme/staging --dry-run

  # Tear down a stage, retrying each deletion up to 5 times
  scopekeeper finalize acme/staging --retry-attempts 5

  # Keep going past failures and report everything
  scopekeeper finalize acme/staging --strategy aggressive

  # Tear down a protected stage
  scopekeeper finalize acme/prod --force

  # Tear down every stage of an application
  scopekeeper finalize acme`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				return fmt.Errorf("finalizing all applications is not implemented")
			}

			ctx := cmd.Context()

			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			var target string
			if len(args) == 1 {
				target = args[0]
			}
			path, err := rt.resolveTarget(target)
			if err != nil {
				return err
			}

			engine, err := rt.engine()
			if err != nil {
				return err
			}

			opts := finalize.Options{
				Strategy:               finalize.Strategy(strategy),
				RetryAttempts:          retryAttempts,
				DryRun:                 dryRun,
				Force:                  force,
				LockTimeout:            lockTimeout,
				RemoveOnPartialFailure: removeOnPartial,
			}
			if !cmd.Flags().Changed("strategy") {
				opts.Strategy = finalize.Strategy(rt.cfg.Finalize.Strategy)
			}
			if !cmd.Flags().Changed("retry-attempts") {
				opts.RetryAttempts = rt.cfg.Finalize.RetryAttempts
			}
			if !cmd.Flags().Changed("lock-timeout") {
				opts.LockTimeout = rt.cfg.Locking.Timeout.Std()
			}
			if !cmd.Flags().Changed("remove-on-partial-failure") {
				opts.RemoveOnPartialFailure = rt.cfg.Finalize.RemoveOnPartialFailure
			}

			report, runErr := engine.Finalize(ctx, path, opts)

			if report != nil {
				if jsonOutput {
					if err := printJSON(report); err != nil {
						return err
					}
				} else {
					printReport(report, 0)
				}
			}

			if runErr != nil {
				return runErr
			}
			if report.ResourcesFailed > 0 {
				return fmt.Errorf("%s: %w", path, errPartialFailure)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	cmd.Flags().BoolVar(&force, "force", false, "allow finalizing protected stages")
	cmd.Flags().BoolVar(&all, "all", false, "finalize all applications (not implemented)")
	cmd.Flags().StringVar(&strategy, "strategy", string(finalize.StrategyConservative), "failure strategy: conservative or aggressive")
	cmd.Flags().IntVar(&retryAttempts, "retry-attempts", finalize.DefaultRetryAttempts, "total deletion attempts per resource")
	cmd.Flags().DurationVar(&lockTimeout, "lock-timeout", finalize.DefaultLockTimeout, "per-scope lock acquisition timeout")
	cmd.Flags().BoolVar(&removeOnPartial, "remove-on-partial-failure", false, "remove scope documents despite failed resources (aggressive only)")

	return cmd
}

// printReport renders a human-readable report tree.
func printReport(r *finalize.Report, depth int) {
	indent := strings.Repeat("  ", depth)

	verb := "deleted"
	if r.DryRun {
		verb = "would delete"
	}
	fmt.Printf("%s%s: %s %d, failed %d", indent, r.ScopePath, verb, r.ResourcesDeleted, r.ResourcesFailed)
	if depth == 0 {
		fmt.Printf(", nested scopes %d, took %s", r.NestedScopesProcessed, r.Duration.Round(time.Millisecond))
	}
	if r.ScopeRemoved {
		fmt.Print(", state removed")
	}
	fmt.Println()

	for _, nested := range r.Nested {
		printReport(nested, depth+1)
	}

	if depth == 0 && len(r.Errors) > 0 {
		fmt.Println("Errors:")
		for _, msg := range r.Errors {
			fmt.Printf("  %s\n", msg)
		}
	}
}
