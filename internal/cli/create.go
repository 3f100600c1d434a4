package cli

import (
	"github.com/spf13/cobra"

	"github.com/searchops/indexmigrate/internal/engine"
)

var createFlags struct {
	force  bool
	esOnly bool
}

var createCmd = &cobra.Command{
	Use:   "create <index>...|all",
	Short: "Create a new schema version for an index",
	Long: "Create materializes the configured schema as a new index version. " +
		"If the schema is unchanged since the newest version, nothing new is " +
		"created unless --force is given. With --es-only only missing physical " +
		"indexes are recreated; the version registry is left untouched.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return runForTargets(args, func(target string) ([]engine.Result, error) {
			return a.engine.CreateIndex(ctx, engine.CreateOptions{
				Target: target,
				Force:  createFlags.force,
				ESOnly: createFlags.esOnly,
			})
		})
	},
}

func init() {
	createCmd.Flags().BoolVar(&createFlags.force, "force", false,
		"create a new version even when the schema is unchanged")
	createCmd.Flags().BoolVar(&createFlags.esOnly, "es-only", false,
		"recreate missing physical indexes without touching the registry")
}
