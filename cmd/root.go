package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/config"
)

var (
	logLevel   string
	configPath string
	logger     *slog.Logger

	// appConfig is the loaded configuration; commands apply their own flags on top
	appConfig = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "cmaes",
	Short: "CMA-ES optimization engine with checkpointing and a job server",
	Long: `cmaes runs the Covariance Matrix Adaptation Evolution Strategy on
benchmark objectives, persists resumable checkpoints and traces, and serves
optimization jobs over HTTP with live progress streaming.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("store") {
			cfg.Store.Backend = storeBackend
		}
		if flags.Changed("data-dir") {
			cfg.Store.Dir = dataDir
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		appConfig = cfg
		storeBackend = cfg.Store.Backend
		dataDir = cfg.Store.Dir

		// Setup logger
		var level slog.Level
		switch strings.ToLower(cfg.LogLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stderr, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (CMAES_* environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "fs", "Checkpoint store backend: fs, badger")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
}
