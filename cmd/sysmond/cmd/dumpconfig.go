package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nullhaus/sysmond/internal/config"
)

var dumpConfigCmd = &cobra.Command{
	Use:   "dump-config",
	Short: "Print the fully-resolved configuration (defaults, file, and env merged) as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("%w: %v", errConfig, err)
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}
