// Package cli implements the indexmigrate command line interface.
package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchops/indexmigrate/internal/engine"
	"github.com/searchops/indexmigrate/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "indexmigrate",
	Short: "Zero-downtime schema migrations for search indexes",
	Long: "indexmigrate manages versioned search index schemas: create new " +
		"versions, bulk-load documents into them, and atomically switch the " +
		"active version, all without taking reads offline.",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(deactivateCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(dangerousResetCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command. Returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// runForTargets invokes one engine call per named target, printing each
// target's results as they finish. Failures do not stop later targets.
func runForTargets(targets []string, fn func(target string) ([]engine.Result, error)) error {
	var errs []error
	for _, target := range targets {
		results, err := fn(target)
		printResults(results)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// printResults writes a one-line outcome per completed action.
func printResults(results []engine.Result) {
	for _, res := range results {
		line := fmt.Sprintf("action %d (%s) %s index=%s",
			res.Action.ID, res.Action.Kind, res.Action.Status, res.Action.Index)
		if res.Version.ID != 0 {
			line += fmt.Sprintf(" version=%s", res.Version.PhysicalName())
		}
		if res.Summary != nil {
			line += fmt.Sprintf(" docs=%d failed=%d batches=%d elapsed=%s",
				res.Summary.DocsIndexed, res.Summary.DocsFailed,
				res.Summary.Batches, res.Summary.Elapsed.Round(time.Millisecond))
		}
		fmt.Println(line)
	}
}
