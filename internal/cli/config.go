package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/grain-api/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect grain-api configuration",
	Long: `Inspect grain-api configuration.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (GRAIN_*, e.g. GRAIN_SERVER_PORT)
3. Config file (./config.yaml or --config)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", used)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		return writeYAML(cmd, cfg)
	},
}

func writeYAML(cmd *cobra.Command, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}
