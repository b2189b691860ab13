package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scopekeeper/pkg/config"
	"github.com/openfroyo/scopekeeper/pkg/scope"
	"github.com/openfroyo/scopekeeper/pkg/state"
)

// inspectOutput is the machine-readable inspect result.
type inspectOutput struct {
	Stats     scope.Stats            `json:"stats"`
	Resources []state.ResourceRecord `json:"resources"`
	Nested    []string               `json:"nestedScopes"`
	Metadata  state.Metadata         `json:"metadata"`
	Orphans   []string               `json:"orphans,omitempty"`
}

func newInspectCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "inspect <app>/<stage>[/nested...]",
		Short: "Show a scope's resources, children, and stats",
		Long: `Show a read-only snapshot of one scope: its resource records, nested
scope registrations, advisory metadata, and diagnostic stats including
lock status.

With --orphans, a CUE desired-resource manifest is compared against the
tracked resources and candidates for deletion are listed.`,
		Example: `  # Inspect a stage
  scopekeeper inspect acme/prod

  # Inspect a nested scope as JSON
  scopekeeper inspect acme/prod/backend --json

  # List orphan candidates against a manifest
  scopekeeper inspect acme/prod --orphans desired.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			path := args[0]
			// Inspection never mutates, so no lock is taken.
			sc, err := scope.New(path, rt.store, nil, rt.logger)
			if err != nil {
				return err
			}

			doc, err := sc.Snapshot(ctx)
			if err != nil {
				return err
			}
			stats, err := sc.Stats(ctx)
			if err != nil {
				return err
			}
			// Lock status comes from the configured manager, not the
			// disabled one the read-only scope carries.
			stats.Locked = rt.locks.IsLocked(path)

			out := inspectOutput{
				Stats:    stats,
				Nested:   doc.NestedScopes,
				Metadata: doc.Metadata,
			}

			ids := make([]string, 0, len(doc.Resources))
			for id := range doc.Resources {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				out.Resources = append(out.Resources, doc.Resources[id])
			}

			if manifestPath != "" {
				manifest, err := config.NewManifestParser().ParseFile(manifestPath)
				if err != nil {
					return err
				}
				orphans, err := sc.FindOrphanedResources(ctx, manifest.Desired(path))
				if err != nil {
					return err
				}
				out.Orphans = orphans
			}

			if jsonOutput {
				return printJSON(out)
			}

			fmt.Printf("Scope:      %s\n", path)
			fmt.Printf("Resources:  %d\n", stats.ResourceCount)
			fmt.Printf("Nested:     %d\n", stats.NestedScopeCount)
			fmt.Printf("Locked:     %v\n", stats.Locked)
			fmt.Printf("Updated:    %s\n", stats.LastUpdated.Format("2006-01-02 15:04:05"))
			if doc.Metadata.Environment != "" {
				fmt.Printf("Environment: %s\n", doc.Metadata.Environment)
			}

			if len(out.Resources) > 0 {
				fmt.Println("\nResources:")
				for _, rec := range out.Resources {
					fmt.Printf("  %-24s %-16s %s\n", rec.ID, rec.Type, rec.Name)
				}
			}
			if len(doc.NestedScopes) > 0 {
				fmt.Println("\nNested scopes:")
				for _, name := range doc.NestedScopes {
					fmt.Printf("  %s/%s\n", path, name)
				}
			}
			if manifestPath != "" {
				fmt.Println("\nOrphan candidates:")
				if len(out.Orphans) == 0 {
					fmt.Println("  none")
				}
				for _, id := range out.Orphans {
					fmt.Printf("  %s\n", id)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "orphans", "", "CUE manifest to compute orphan candidates against")

	return cmd
}
