package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbvault/internal/display"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	tenant  string
)

var printer = display.NewPrinter()

var rootCmd = &cobra.Command{
	Use:   "dbvault",
	Short: "Backup, restore and offsite sync for PostgreSQL-backed applications",
	Long: `dbvault snapshots application tables into portable artifacts,
restores them transactionally, runs recurring backup schedules with
retention, and replicates artifacts to S3-compatible, GCS or Azure
object storage.

Examples:
  # Run the API server with the background schedulers
  dbvault serve --config=dbvault.yaml

  # Take a one-off full backup
  dbvault backup create --name=pre-release --compress

  # Restore a backup, merging rows into existing tables
  dbvault restore create --backup-id=12 --mode=MERGE

  # Push completed backups to the configured object store
  dbvault cloud sync`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dbvault.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant to operate on (default from config)")
}
