package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/datastage/internal/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard and run API",
	Long: `Start the HTTP server. Runs are triggered with POST /api/runs; at most one
run executes at a time.

Examples:
  SERVER_PORT=9000 stager serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{converter: true, metrics: true})
	if err != nil {
		return err
	}
	defer a.close()

	server := web.NewServer(a.service, web.Options{
		ReadTimeout:    a.cfg.Server.ReadTimeout,
		TrustedProxies: a.cfg.Server.TrustedProxyList(),
		Metrics:        promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then let an in-flight run finish.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if status := a.service.Status(); status.Running {
			slog.Info("waiting for staging run to complete")
			if err := a.service.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("staging run did not complete in time", "error", err)
			}
		}
	}()

	if err := server.Start(a.cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	slog.Info("server stopped")
	return nil
}
