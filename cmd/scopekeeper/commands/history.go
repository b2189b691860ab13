package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scopekeeper/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit        int
		pathFilter   string
		showAudit    bool
		actionFilter string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent finalization runs",
		Long: `Show finalization runs recorded in the history store, newest first.

History must be enabled in the configuration; each run records its
target, strategy, outcome counters, and any errors. With --audit the
audit trail is shown instead of the run summaries.`,
		Example: `  # The last 20 runs
  scopekeeper history

  # Runs against one scope path
  scopekeeper history --path acme/staging

  # The audit trail, optionally filtered by action
  scopekeeper history --audit
  scopekeeper history --audit --action scope.finalized

  # Machine-readable output
  scopekeeper history --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.history == nil {
				return fmt.Errorf("history is disabled in the configuration")
			}

			if showAudit {
				return printAuditTrail(cmd, rt, actionFilter, limit)
			}

			var runs []*stores.FinalizeRun
			if pathFilter != "" {
				runs, err = rt.history.ListRunsByPath(ctx, pathFilter, limit, 0)
			} else {
				runs, err = rt.history.ListRuns(ctx, limit, 0)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No finalization runs recorded")
				return nil
			}
			for _, run := range runs {
				flags := ""
				if run.DryRun {
					flags += " dry-run"
				}
				if run.Force {
					flags += " force"
				}
				fmt.Printf("%s  %-9s %-28s %s%s  deleted %d, failed %d, %dms\n",
					run.StartedAt.Format(time.RFC3339),
					run.Status,
					run.ScopePath,
					run.Strategy,
					flags,
					run.ResourcesDeleted,
					run.ResourcesFailed,
					run.DurationMS,
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	cmd.Flags().StringVar(&pathFilter, "path", "", "only runs against this scope path")
	cmd.Flags().BoolVar(&showAudit, "audit", false, "show the audit trail instead of run summaries")
	cmd.Flags().StringVar(&actionFilter, "action", "", "only audit entries with this action")

	return cmd
}

// printAuditTrail renders audit entries, newest first.
func printAuditTrail(cmd *cobra.Command, rt *runtime, action string, limit int) error {
	ctx := cmd.Context()

	var actionPtr *string
	if action != "" {
		actionPtr = &action
	}
	entries, err := rt.history.ListAuditEntries(ctx, actionPtr, nil, limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries recorded")
		return nil
	}
	for _, entry := range entries {
		scopePath := ""
		if entry.ScopePath != nil {
			scopePath = *entry.ScopePath
		}
		fmt.Printf("%s  %-20s %-12s %s\n",
			entry.Timestamp.Format(time.RFC3339),
			entry.Action,
			entry.Actor,
			scopePath,
		)
	}
	return nil
}
