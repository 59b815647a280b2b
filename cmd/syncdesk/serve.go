package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/syncdesk/internal/api"
	"github.com/hyperengineering/syncdesk/internal/txlog"
	"github.com/hyperengineering/syncdesk/internal/worker"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only transactions API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.cfg

	// 1. Signal handling
	ctx, cancel := signalContext()
	defer cancel()

	// 2. Journal (migrations, WAL mode)
	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	slog.Info("journal opened", "path", cfg.Paths.JournalDB)

	// 3. Background sweeper for runs that died mid-transaction
	if cfg.Server.SweepInterval > 0 {
		sweeper := worker.NewStaleSweeper(j.db, []txlog.Sink{j.files, j.db},
			cfg.Server.SweepInterval.Std(), cfg.Server.StaleAfter.Std(), app.logger)
		go sweeper.Run(ctx)
	}

	// 4. HTTP router
	if cfg.Server.APIKey == "" {
		slog.Warn("SYNCDESK_API_KEY is not set; transaction routes are unauthenticated")
	}
	router := api.NewRouter(api.NewHandler(j.db, cfg.Server.APIKey, Version))

	// 5. HTTP server
	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 6. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 7. Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := j.Close(); err != nil {
		slog.Error("journal close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
