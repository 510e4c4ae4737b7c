package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dbvault/internal/display"
	"dbvault/internal/native"
)

var dumpMode string

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Take a native SQL dump now",
	Long: `Runs the native dump once, outside the daily cadence. Uses
pg_dump when available and falls back to a generated INSERT script
for full and data-only dumps.`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&dumpMode, "mode", "full", "dump mode (full, schema-only, data-only)")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if a.native == nil {
		return fmt.Errorf("native dumps are not enabled in the configuration")
	}

	mode, err := native.ParseDumpMode(dumpMode)
	if err != nil {
		return err
	}

	started := time.Now()
	b, err := a.native.RunDump(ctx, "manual", mode)
	if err != nil {
		return err
	}

	if !quiet {
		printer.Success("dump %s written to %s (%s in %s)",
			b.BackupCode, b.FilePath, display.FormatBytes(b.FileSize), display.FormatDuration(time.Since(started)))
	}
	return nil
}
