package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpattn/studyclips/internal/config"
	"github.com/rpattn/studyclips/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "studyclips",
	Short: "study data ingestion and retrieval service",
	Long: `
	Stores versioned study data clips, enforces role-based data permissions and
	answers transformation queries over the latest live data.
	`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// setup loads the configuration and builds the logger every command shares.
func setup() (config.Config, *logger.ZapLogger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
