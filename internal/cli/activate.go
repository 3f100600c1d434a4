package cli

import (
	"github.com/spf13/cobra"

	"github.com/searchops/indexmigrate/internal/engine"
)

var activateCmd = &cobra.Command{
	Use:   "activate <index>|<index-version>...|all",
	Short: "Point an index at a version",
	Long: "Activate switches which version serves the index. A versioned " +
		"target like movies-3 activates that exact version; a bare name " +
		"activates the latest one.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return runForTargets(args, func(target string) ([]engine.Result, error) {
			return a.engine.ActivateIndex(ctx, engine.ActivateOptions{Target: target})
		})
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <index>...|all",
	Short: "Clear the active version pointer of an index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, ctx, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return runForTargets(args, func(target string) ([]engine.Result, error) {
			return a.engine.DeactivateIndex(ctx, engine.ActivateOptions{Target: target})
		})
	},
}
