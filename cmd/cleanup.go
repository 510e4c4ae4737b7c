package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run a retention pass now",
	Long: `Deletes expired backups, then applies each schedule's age
limit and backup count cap, oldest first. The same pass the daily
cleanup job runs.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	result, err := a.retention.Cleanup(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	if !quiet {
		printer.Success("removed %d backup(s): %d expired, %d over age limit, %d over count cap",
			result.Total(), result.ExpiredDeleted, result.AgeDeleted, result.CountDeleted)
		if result.Failed > 0 {
			printer.Warn("%d deletion(s) failed, see logs", result.Failed)
		}
	}
	return nil
}
