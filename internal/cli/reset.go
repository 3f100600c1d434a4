package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetFlags struct {
	force bool
}

var dangerousResetCmd = &cobra.Command{
	Use:   "dangerous-reset",
	Short: "Wipe the registry and every physical index in this environment",
	Long: "dangerous-reset deletes every physical index belonging to this " +
		"environment and purges the entire version registry, including the " +
		"action audit trail. There is no undo and no partial mode.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, ctx, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.engine.DangerousReset(ctx, resetFlags.force); err != nil {
			return err
		}
		fmt.Println("registry and physical indexes wiped")
		return nil
	},
}

func init() {
	dangerousResetCmd.Flags().BoolVar(&resetFlags.force, "force", false,
		"confirm wiping everything")
}
