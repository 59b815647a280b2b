package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/hyperengineering/syncdesk/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath       string
	logLevelOverride string
)

// app holds what PersistentPreRunE prepared for the running command.
var app struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func() error
}

var rootCmd = &cobra.Command{
	Use:           "syncdesk",
	Short:         "syncdesk - Freshdesk to Clarity ticket state sync",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides SYNCDESK_CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "",
		"Log level: debug, info, warn, error")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(notesCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and prints a failing command's error once.
func Execute() error {
	err := rootCmd.Execute()
	if app.cleanup != nil {
		_ = app.cleanup()
		app.cleanup = nil
	}
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

// setup loads configuration and installs the process logger.
func setup() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevelOverride != "" {
		cfg.Log.Level = logLevelOverride
	}
	level, err := config.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	logger, cleanup := config.SetupLogger(cfg.Log.File, level)
	slog.SetDefault(logger)
	slog.Debug("configuration loaded", "log_level", cfg.Log.Level, "log_file", cfg.Log.File)

	app.cfg = cfg
	app.logger = logger
	app.cleanup = cleanup
	return nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}
