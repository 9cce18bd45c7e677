package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// Sentinel errors map 1:1 to the exit codes spec §6.2 assigns: 1 for a
// configuration problem, 2 for storage initialization, 3 for a bind
// failure. errInterrupted is what serve returns after a signal-driven
// shutdown; ExitCodeFor maps it to 130.
var (
	errConfig      = errors.New("configuration error")
	errStorageInit = errors.New("storage initialization failed")
	errBind        = errors.New("http bind failed")
	errInterrupted = errors.New("interrupted")
)

// IsInterrupted reports whether err is the sentinel serve returns after a
// clean SIGINT/SIGTERM shutdown, so main can skip printing it as a failure.
func IsInterrupted(err error) bool {
	return errors.Is(err, errInterrupted)
}

// ExitCodeFor maps a returned error to the process exit code spec §6.2
// names. A nil error exits 0; an unrecognized error exits 1, matching
// cobra's own RunE-returns-non-nil-exits-1 convention.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errConfig):
		return 1
	case errors.Is(err, errStorageInit):
		return 2
	case errors.Is(err, errBind):
		return 3
	case errors.Is(err, errInterrupted):
		return 130
	default:
		return 1
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sysmond",
	Short: "Host-local system-telemetry collection agent",
	Long: `sysmond samples CPU, memory, GPU, disk, network, process, and user-context
metrics on a multi-rate schedule, stores them durably, detects anomalies
against rolling baselines, and serves them over a loopback-only HTTP API
for a local ML trainer and LLM context provider to read.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; defaults and env vars apply without one)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpConfigCmd)
}
