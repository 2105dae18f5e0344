package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel   string
	logger     *slog.Logger
	dataDir    string
	storeKind  string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "lcfit",
	Short: "Recover transiting shapes from stellar light curves",
	Long: `lcfit fits an ensemble of small neural networks, describing the opacity
of a body crossing a star, to an observed light curve using a circuit search
followed by approximate gradient descent.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logger
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for stored runs")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "fs", "Run storage backend (fs, sqlite)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML fit configuration (defaults when empty)")
}
