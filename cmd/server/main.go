package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kvizyx/speakerlog/internal/config"
	loglib "github.com/kvizyx/speakerlog/pkg/logger"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "speakerlog",
	Short: "Records every speaker of a Discord voice channel into its own file",
	// Running without a subcommand serves.
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".env", "path to config")

	rootCmd.AddCommand(serveCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, loglib.Logger, error) {
	cfg, err := config.New(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := loglib.New(loglib.Params{
		Env:        cfg.Env,
		LevelLocal: slog.LevelDebug,
		LevelProd:  slog.LevelInfo,
	})
	if err != nil {
		return config.Config{}, nil, err
	}

	return cfg, logger, nil
}
