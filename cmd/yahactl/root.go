package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"yaha-bot/internal/config"
	"yaha-bot/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "yahactl",
	Short: "Operate the health logging pipeline",
	Long: `yahactl runs the health logging pipeline locally, classifies text the way
the bot would, and answers which hop broke for a correlation id.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "yaha.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overriding log.level")
}

// loadConfig reads the config file and sets up logging from its log section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.Log, logLevel))
	return cfg, nil
}

// newLogger builds the CLI logger. A non-empty level overrides log.level.
func newLogger(w io.Writer, lc config.LogConfig, level string) *slog.Logger {
	if level == "" {
		level = lc.Level
	}
	return logging.New(w, lc.Format, logging.ParseLevel(level))
}
