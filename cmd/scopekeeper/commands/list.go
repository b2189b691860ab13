package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [app]",
		Short: "List applications or an application's stages",
		Long: `List known applications, or the stages of one application.

List is read-only: it never takes a lock, and reflects the state
directory at the moment of the call.`,
		Example: `  # List all applications with tracked state
  scopekeeper list

  # List the stages of one application
  scopekeeper list acme

  # Machine-readable output
  scopekeeper list acme --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if len(args) == 0 {
				apps, err := rt.store.ListApps(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string][]string{"applications": apps})
				}
				if len(apps) == 0 {
					fmt.Println("No applications tracked")
					return nil
				}
				for _, app := range apps {
					fmt.Println(app)
				}
				return nil
			}

			app := args[0]
			stages, err := rt.store.ListStages(ctx, app)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]interface{}{
					"application": app,
					"stages":      stages,
				})
			}
			if len(stages) == 0 {
				fmt.Printf("No stages tracked for %s\n", app)
				return nil
			}
			for _, stage := range stages {
				fmt.Printf("%s/%s\n", app, stage)
			}
			return nil
		},
	}

	return cmd
}
