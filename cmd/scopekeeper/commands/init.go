package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scopekeeper/pkg/scope"
	"github.com/openfroyo/scopekeeper/pkg/state"
)

func newInitCommand() *cobra.Command {
	var (
		environment string
		ephemeral   bool
		resources   []string
		register    bool
	)

	cmd := &cobra.Command{
		Use:   "init <app>/<stage>[/nested...]",
		Short: "Initialize a scope document",
		Long: `Initialize the persisted document for a scope path.

Initializing an existing scope is a no-op. Nested scopes (three or more
segments) are registered with their parent scope unless --no-register is
given; the parent must already exist.`,
		Example: `  # Initialize a stage scope
  scopekeeper init acme/staging

  # Initialize with advisory metadata
  scopekeeper init acme/staging --environment staging --ephemeral

  # Initialize a nested scope and seed it with resources
  scopekeeper init acme/staging/backend --resource db=database=main-db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			path := args[0]
			segments, err := state.SplitPath(path)
			if err != nil {
				return err
			}

			sc, err := scope.New(path, rt.store, rt.locks, rt.logger)
			if err != nil {
				return err
			}
			if err := sc.Initialize(ctx); err != nil {
				return err
			}

			if environment != "" || ephemeral {
				err := sc.UpdateMetadata(ctx, func(meta *state.Metadata) {
					if environment != "" {
						meta.Environment = environment
					}
					meta.IsEphemeral = ephemeral
				})
				if err != nil {
					return err
				}
			}

			for _, spec := range resources {
				rec, err := parseResourceSpec(spec)
				if err != nil {
					return err
				}
				if err := sc.AddResource(ctx, rec); err != nil {
					return err
				}
			}

			if register && len(segments) > 2 {
				parentPath := state.ParentPath(path)
				parent, err := scope.New(parentPath, rt.store, rt.locks, rt.logger)
				if err != nil {
					return err
				}
				name := segments[len(segments)-1]
				if err := parent.RegisterNestedScope(ctx, name); err != nil {
					return fmt.Errorf("failed to register %s with %s: %w", name, parentPath, err)
				}
			}

			if jsonOutput {
				stats, err := sc.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(stats)
			}

			fmt.Printf("Initialized scope %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&environment, "environment", "", "advisory environment label")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "mark the scope as ephemeral")
	cmd.Flags().StringArrayVar(&resources, "resource", nil, "seed a resource record, id=type=name")
	cmd.Flags().BoolVar(&register, "register", true, "register nested scopes with their parent")

	return cmd
}

// parseResourceSpec parses "id=type=name" (name optional) into a record.
func parseResourceSpec(spec string) (state.ResourceRecord, error) {
	parts := strings.SplitN(spec, "=", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return state.ResourceRecord{}, fmt.Errorf("invalid resource spec %q, want id=type[=name]", spec)
	}
	rec := state.ResourceRecord{
		ID:   parts[0],
		Type: parts[1],
		Name: parts[0],
	}
	if len(parts) == 3 && parts[2] != "" {
		rec.Name = parts[2]
	}
	return rec, nil
}
