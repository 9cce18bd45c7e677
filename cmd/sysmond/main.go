// Command sysmond is the host-local system-telemetry agent's entry point.
package main

import (
	"fmt"
	"os"

	"github.com/nullhaus/sysmond/cmd/sysmond/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if !cmd.IsInterrupted(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(cmd.ExitCodeFor(err))
	}
}
