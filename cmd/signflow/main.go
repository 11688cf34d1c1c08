// Command signflow runs the signflow API server and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/signflow/internal/config"
	"github.com/R3E-Network/signflow/pkg/logger"
	"github.com/R3E-Network/signflow/pkg/version"
)

var (
	configPath string
	dotenvPath string
)

var rootCmd = &cobra.Command{
	Use:           "signflow",
	Short:         "Multi-tenant document signing service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SIGNFLOW_CONFIG"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dotenvPath, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

// loadConfig reads configuration and builds the process logger from it.
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadFrom(configPath, dotenvPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
