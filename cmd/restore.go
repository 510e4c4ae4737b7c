package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"dbvault/internal/backup"
	"dbvault/internal/display"
)

var (
	restoreBackupID uint
	restoreMode     string
	restoreTables   []string
	restoreNoSafety bool
	restoreLimit    int
	restoreForID    uint
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore backups into the application tables",
}

var restoreCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a restore from a completed backup",
	Long: `Starts a restore run. FULL replaces every table from the
artifact, SELECTIVE replaces only the requested tables, MERGE inserts
artifact rows and skips those that collide with existing keys.

A safety backup of the current state is taken first unless
--no-safety-backup is set.`,
	RunE: runRestoreCreate,
}

var restoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restore runs",
	RunE:  runRestoreList,
}

func init() {
	restoreCreateCmd.Flags().UintVar(&restoreBackupID, "backup-id", 0, "id of the backup to restore")
	restoreCreateCmd.Flags().StringVar(&restoreMode, "mode", "FULL", "restore mode (FULL, SELECTIVE, MERGE)")
	restoreCreateCmd.Flags().StringSliceVar(&restoreTables, "tables", nil, "tables to restore (required for SELECTIVE)")
	restoreCreateCmd.Flags().BoolVar(&restoreNoSafety, "no-safety-backup", false, "skip the pre-restore safety backup")
	restoreCreateCmd.MarkFlagRequired("backup-id")

	restoreListCmd.Flags().IntVar(&restoreLimit, "limit", 50, "maximum number of restores to list")
	restoreListCmd.Flags().UintVar(&restoreForID, "backup-id", 0, "only restores taken from this backup")

	restoreCmd.AddCommand(restoreCreateCmd)
	restoreCmd.AddCommand(restoreListCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runRestoreCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	spec := &backup.RestoreSpec{
		TenantID: a.tenant(),
		BackupID: restoreBackupID,
		Mode:     backup.RestoreMode(restoreMode),
		Tables:   restoreTables,
	}
	if restoreNoSafety {
		noSafety := false
		spec.CreateBackupBefore = &noSafety
	}

	rec, err := a.restorer.CreateRestore(ctx, spec, backup.Actor{ID: "cli"})
	if err != nil {
		return err
	}

	if !quiet {
		printer.Success("restore %s started (mode %s)", rec.RestoreCode, rec.Mode)
	}
	return nil
}

func runRestoreList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	var items []backup.Restore
	if restoreForID > 0 {
		items, err = a.restorer.ListRestoresForBackup(ctx, a.tenant(), restoreForID)
	} else {
		items, err = a.restorer.ListRestores(ctx, a.tenant(), restoreLimit, 0)
	}
	if err != nil {
		return err
	}

	if len(items) == 0 {
		printer.Println("no restores found")
		return nil
	}

	table := display.NewTable("ID", "CODE", "MODE", "STATUS", "TABLES", "RECORDS", "CREATED")
	for _, r := range items {
		table.AddRow(
			fmt.Sprintf("%d", r.ID),
			r.RestoreCode,
			string(r.Mode),
			string(r.Status),
			fmt.Sprintf("%d", r.TablesRestored),
			fmt.Sprintf("%d", r.RecordsRestored),
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.RenderTo(cmd.OutOrStdout())
	return nil
}
