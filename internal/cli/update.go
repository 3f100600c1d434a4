package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchops/indexmigrate/internal/engine"
	"github.com/searchops/indexmigrate/internal/reindex"
)

var updateFlags struct {
	newer     bool
	resume    bool
	start     string
	workers   int
	batchSize int
}

var updateCmd = &cobra.Command{
	Use:   "update <index>|<index-version>...|all",
	Short: "Bulk-load documents from the data source into an index version",
	Long: "Update reads documents from the index's configured data source and " +
		"writes them to the resolved version in batches. A versioned target " +
		"like movies-3 updates that exact version; a bare name updates the " +
		"active version only and fails when nothing is active.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var start time.Time
		if updateFlags.start != "" {
			var err error
			start, err = parseStartDate(updateFlags.start)
			if err != nil {
				return err
			}
		}

		a, ctx, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return runForTargets(args, func(target string) ([]engine.Result, error) {
			return a.engine.UpdateIndex(ctx, engine.UpdateOptions{
				Target:    target,
				Newer:     updateFlags.newer,
				Resume:    updateFlags.resume,
				StartDate: start,
				Workers:   updateFlags.workers,
				BatchSize: updateFlags.batchSize,
			})
		})
	},
}

// parseStartDate accepts a date or a full RFC 3339 timestamp.
func parseStartDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --start %q: want YYYY-MM-DD or RFC 3339", s)
}

func init() {
	updateCmd.Flags().BoolVar(&updateFlags.newer, "newer", false,
		"also update every version newer than the resolved one")
	updateCmd.Flags().BoolVar(&updateFlags.resume, "resume", false,
		"only load documents changed since the last completed update")
	updateCmd.Flags().StringVar(&updateFlags.start, "start", "",
		"only load documents changed since this date; wins over --resume")
	updateCmd.Flags().IntVar(&updateFlags.workers, "workers", 0,
		fmt.Sprintf("parallel workers; 0 runs sequentially, %d uses all cores", reindex.UseAllWorkers))
	// A bare --workers with no value means "use all cores".
	updateCmd.Flags().Lookup("workers").NoOptDefVal = strconv.Itoa(reindex.UseAllWorkers)
	updateCmd.Flags().IntVar(&updateFlags.batchSize, "batch-size", 0,
		"documents per batch; 0 uses the configured default")
}
