package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cloudPrefix       string
	cloudSyncBackupID uint
)

var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Offsite replication of backup artifacts",
}

var cloudTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check connectivity and credentials for the configured object store",
	RunE:  runCloudTest,
}

var cloudSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload completed backups that have no offsite copy yet, or one by id",
	RunE:  runCloudSync,
}

var cloudListCmd = &cobra.Command{
	Use:   "list",
	Short: "List objects in the offsite store",
	RunE:  runCloudList,
}

func init() {
	cloudListCmd.Flags().StringVar(&cloudPrefix, "prefix", "", "key prefix to list (default from config)")
	cloudSyncCmd.Flags().UintVar(&cloudSyncBackupID, "backup-id", 0, "upload only this backup")

	cloudCmd.AddCommand(cloudTestCmd)
	cloudCmd.AddCommand(cloudSyncCmd)
	cloudCmd.AddCommand(cloudListCmd)
	rootCmd.AddCommand(cloudCmd)
}

func runCloudTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if a.store == nil {
		return fmt.Errorf("cloud sync is not enabled in the configuration")
	}

	if err := a.store.Test(ctx); err != nil {
		printer.Error("connectivity test failed: %v", err)
		return err
	}

	printer.Success("%s storage is reachable", a.cfg.Cloud.Provider)
	return nil
}

func runCloudSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if a.syncer == nil {
		return fmt.Errorf("cloud sync is not enabled in the configuration")
	}

	if cloudSyncBackupID > 0 {
		b, err := a.engine.GetBackup(ctx, a.tenant(), cloudSyncBackupID)
		if err != nil {
			return err
		}
		if err := a.syncer.SyncBackup(ctx, b); err != nil {
			return err
		}
		if !quiet {
			printer.Success("backup %s uploaded", b.BackupCode)
		}
		return nil
	}

	result, err := a.syncer.SyncPending(ctx)
	if err != nil {
		return err
	}

	if result.Failed > 0 {
		printer.Warn("uploaded %d backup(s), %d failed", result.Uploaded, result.Failed)
	} else if !quiet {
		printer.Success("uploaded %d backup(s)", result.Uploaded)
	}
	return nil
}

func runCloudList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if a.store == nil {
		return fmt.Errorf("cloud sync is not enabled in the configuration")
	}

	prefix := cloudPrefix
	if prefix == "" {
		prefix = a.cfg.Cloud.KeyPrefix
	}

	result := a.store.List(ctx, prefix)
	if result.Error != "" {
		return fmt.Errorf("listing failed: %s", result.Error)
	}

	for _, key := range result.Keys {
		printer.Println(key)
	}
	if !quiet {
		printer.Printf("%d object(s)\n", len(result.Keys))
	}
	return nil
}
