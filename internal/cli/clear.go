package cli

import (
	"github.com/spf13/cobra"

	"github.com/searchops/indexmigrate/internal/engine"
)

var clearFlags struct {
	older bool
}

var clearCmd = &cobra.Command{
	Use:   "clear <index>|<index-version>...|all",
	Short: "Delete all documents from a version, keeping its structure",
	Long: "Clear removes every document from the resolved version. A bare " +
		"name clears the active version only and fails when nothing is " +
		"active. With --older every version older than the resolved one is " +
		"cleared instead.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return runForTargets(args, func(target string) ([]engine.Result, error) {
			return a.engine.ClearIndex(ctx, engine.ClearOptions{
				Target: target,
				Older:  clearFlags.older,
			})
		})
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearFlags.older, "older", false,
		"clear every version older than the resolved one")
}
