package main

import (
	"github.com/joho/godotenv"

	"dbvault/cmd"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// A missing .env file is fine, the environment wins anyway.
	_ = godotenv.Load()

	cmd.SetVersionInfo(Version, BuildTime, GitCommit)
	cmd.Execute()
}
