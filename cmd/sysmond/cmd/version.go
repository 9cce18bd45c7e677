package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set by the release build via -ldflags; left at their defaults for
// development builds.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("sysmond version %s\n", version)
		fmt.Printf("build time: %s\n", buildTime)
		fmt.Printf("git commit: %s\n", gitCommit)
		return nil
	},
}
