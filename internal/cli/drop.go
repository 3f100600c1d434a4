package cli

import (
	"github.com/spf13/cobra"

	"github.com/searchops/indexmigrate/internal/engine"
)

var dropFlags struct {
	force      bool
	older      bool
	esOnly     bool
	hardDelete bool
	justPrefix string
}

var dropCmd = &cobra.Command{
	Use:   "drop <index>|<index-version>...|all",
	Short: "Remove index versions",
	Long: "Drop deletes the physical index of the resolved version and marks " +
		"its registry row deleted. Dropping the active version, a whole index " +
		"by bare name, --older fan-out, and 'all' each require --force. With " +
		"--es-only only physical indexes are removed; registry rows survive " +
		"so they can be recreated later.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return runForTargets(args, func(target string) ([]engine.Result, error) {
			return a.engine.DropIndex(ctx, engine.DropOptions{
				Target:     target,
				Force:      dropFlags.force,
				Older:      dropFlags.older,
				ESOnly:     dropFlags.esOnly,
				HardDelete: dropFlags.hardDelete,
				JustPrefix: dropFlags.justPrefix,
			})
		})
	},
}

func init() {
	dropCmd.Flags().BoolVar(&dropFlags.force, "force", false,
		"confirm a destructive drop")
	dropCmd.Flags().BoolVar(&dropFlags.older, "older", false,
		"drop every version older than the resolved one (requires --force)")
	dropCmd.Flags().BoolVar(&dropFlags.esOnly, "es-only", false,
		"remove physical indexes only, keeping registry rows")
	dropCmd.Flags().BoolVar(&dropFlags.hardDelete, "hard-delete", false,
		"remove version rows instead of soft-deleting them")
	dropCmd.Flags().StringVar(&dropFlags.justPrefix, "just-prefix", "",
		"restrict --es-only drops to physical names with this prefix")
}
