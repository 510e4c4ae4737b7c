package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"dbvault/internal/backup"
)

var (
	backupName        string
	backupDescription string
	backupType        string
	backupTables      []string
	backupCompress    bool
	backupEncrypt     bool
	backupStatus      string
	backupLimit       int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and inspect backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a backup of the application tables",
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups",
	RunE:  runBackupList,
}

func init() {
	backupCreateCmd.Flags().StringVar(&backupName, "name", "", "backup name")
	backupCreateCmd.Flags().StringVar(&backupDescription, "description", "", "backup description")
	backupCreateCmd.Flags().StringVar(&backupType, "type", "FULL", "backup type (FULL, INCREMENTAL, DIFFERENTIAL, DATA_ONLY, SCHEMA_ONLY)")
	backupCreateCmd.Flags().StringSliceVar(&backupTables, "tables", nil, "restrict the backup to these tables")
	backupCreateCmd.Flags().BoolVar(&backupCompress, "compress", false, "compress the artifact")
	backupCreateCmd.Flags().BoolVar(&backupEncrypt, "encrypt", false, "encrypt the artifact")

	backupListCmd.Flags().StringVar(&backupStatus, "status", "", "filter by status")
	backupListCmd.Flags().IntVar(&backupLimit, "limit", 50, "maximum number of backups to list")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	rootCmd.AddCommand(backupCmd)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	spec := &backup.BackupSpec{
		TenantID:    a.tenant(),
		Name:        backupName,
		Description: backupDescription,
		Type:        backup.BackupType(backupType),
		Tables:      backupTables,
		Compress:    backupCompress,
		Encrypt:     backupEncrypt,
	}

	b, err := a.engine.CreateBackup(ctx, spec, backup.Actor{ID: "cli"})
	if err != nil {
		return err
	}

	if !quiet {
		printer.Success("backup %s started", b.BackupCode)
		printer.Printf("track it with: dbvault backup list --status=COMPLETED\n")
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	items, err := a.engine.ListBackups(ctx, backup.BackupFilter{
		TenantID: a.tenant(),
		Status:   backup.BackupStatus(backupStatus),
		Limit:    backupLimit,
	})
	if err != nil {
		return err
	}

	printer.BackupTable(items)
	if !quiet {
		printer.Printf("%s\n", fmt.Sprintf("%d backup(s)", len(items)))
	}
	return nil
}
