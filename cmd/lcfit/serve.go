package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jhs/lcfit/internal/metrics"
	"github.com/jhs/lcfit/internal/server"
	"github.com/jhs/lcfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	listenAddr    string
	shutdownGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serves the fit job API (/api/v1/jobs), stored runs (/api/v1/runs) and
prometheus metrics (/metrics). Jobs start from the configuration given by --config.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 30*time.Second, "Time to wait for running jobs on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runs, err := store.NewStore(ctx, storeKind, dataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer runs.Close()

	srv := server.NewServer(server.Config{
		Addr:     listenAddr,
		BaseDir:  dataDir,
		Store:    runs,
		Fit:      cfg,
		Recorder: metrics.NewRecorder(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Shutdown incomplete", "error", err)
	}
	return nil
}
