package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Brownie44l1/grain-api/internal/config"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "grain-api",
	Short: "Grain and legume image classification API",
	Long: `grain-api classifies an image of a grain or legume sample into one of a
fixed set of classes and returns the predicted class, a confidence, the full
probability distribution and descriptive attributes of the class.

When no model is available the service answers with simulated predictions.

Running without a subcommand is the same as "grain-api serve".`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "grain-api %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml if present)")
	flags.String("port", "", "HTTP port")
	flags.String("model", "", "path to the ONNX model")
	flags.String("metadata", "", "path to the model metadata JSON")
	flags.String("device", "", "compute device: auto, cpu, cuda or none")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("model.path", flags.Lookup("model"))
	_ = viper.BindPFlag("model.metadata_path", flags.Lookup("metadata"))
	_ = viper.BindPFlag("model.device", flags.Lookup("device"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads the config file and GRAIN_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// PORT is what most hosting platforms set
	_ = viper.BindEnv("server.port", config.EnvPrefix+"_SERVER_PORT", "PORT")

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}
