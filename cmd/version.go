package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	buildTime  = "unknown"
	gitCommit  = "unknown"
)

// SetVersionInfo stores the build-time version metadata. Called from
// main before Execute.
func SetVersionInfo(version, built, commit string) {
	appVersion = version
	buildTime = built
	gitCommit = commit
	rootCmd.Version = version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dbvault %s\n", appVersion)
		fmt.Printf("  commit:  %s\n", gitCommit)
		fmt.Printf("  built:   %s\n", buildTime)
		fmt.Printf("  runtime: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
