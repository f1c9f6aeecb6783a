package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/server"
)

var (
	serveAddr     string
	serveMaxJobs  int
	shutdownGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts the HTTP server for submitting and monitoring CMA-ES jobs.

Endpoints:
  POST /api/v1/jobs                 submit a job (JSON run config, omitted fields use the defaults)
  GET  /api/v1/jobs                 list jobs
  GET  /api/v1/jobs/{id}/status     job status
  GET  /api/v1/jobs/{id}/stream     live progress (server-sent events)
  POST /api/v1/jobs/{id}/cancel     cancel a job
  POST /api/v1/jobs/{id}/resume     resume from the stored checkpoint
  GET  /api/v1/jobs/{id}/checkpoint checkpoint metadata
  GET  /metrics                     Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().IntVar(&serveMaxJobs, "max-jobs", 0, "Maximum concurrent jobs (0 = unlimited)")
	serveCmd.Flags().DurationVar(&shutdownGrace, "shutdown-timeout", 30*time.Second, "Time allowed for jobs to checkpoint on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	sc := appConfig.Server
	if cmd.Flags().Changed("addr") {
		sc.Addr = serveAddr
	}
	if cmd.Flags().Changed("max-jobs") {
		sc.MaxConcurrentJobs = serveMaxJobs
	}

	checkpointStore, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Error("Failed to close checkpoint store", "error", err)
		}
	}()

	srv := server.NewServer(sc.Addr, server.Options{
		Store:             checkpointStore,
		MaxConcurrentJobs: sc.MaxConcurrentJobs,
		Defaults:          appConfig.Run,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
