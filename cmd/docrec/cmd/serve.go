package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docrec/internal/queue"
	"github.com/MeKo-Tech/docrec/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP recognition API",
		Long: `Start an HTTP server exposing recognition over REST and WebSocket.

Endpoints:
  GET  /health            health and component status
  GET  /templates         loaded templates and their regions
  POST /recognize         read a photo or scanned PDF with a template
  POST /align             return the photo warped onto a template
  POST /passport          passport serial and number
  POST /driver-license    driver license fields
  POST /jobs              queue a recognition (requires Redis)
  GET  /records[/{id}]    stored recognitions
  GET  /ws/recognize      streaming recognition over WebSocket
  GET  /metrics           Prometheus metrics

Examples:
  docrec serve
  docrec serve --host 0.0.0.0 --port 3000 --rate-limit
  DOCREC_STORE_DSN=postgres://localhost/docrec docrec serve`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}
	f := c.Flags()
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8080, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int64("max-upload-size", 20, "maximum upload size in MB")
	f.Int("timeout", 60, "request timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	f.Bool("rate-limit", false, "enable per-client rate limiting")
	f.Int("requests-per-minute", 60, "maximum requests per minute per client")
	f.Int("requests-per-hour", 1000, "maximum requests per hour per client")
	f.String("redis-url", "", "Redis URL of the job queue (enables POST /jobs)")
	bindFlag(f, "host", "server.host")
	bindFlag(f, "port", "server.port")
	bindFlag(f, "cors-origin", "server.cors_origin")
	bindFlag(f, "max-upload-size", "server.max_upload_mb")
	bindFlag(f, "timeout", "server.timeout_sec")
	bindFlag(f, "shutdown-timeout", "server.shutdown_timeout_sec")
	bindFlag(f, "rate-limit", "server.rate_limit.enabled")
	bindFlag(f, "requests-per-minute", "server.rate_limit.requests_per_minute")
	bindFlag(f, "requests-per-hour", "server.rate_limit.requests_per_hour")
	bindFlag(f, "redis-url", "queue.redis_url")
	return c
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, closeSvc, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeSvc()

	var opts []server.Option
	if a.cfg.Queue.RedisURL != "" {
		client, err := queue.NewClient(a.cfg.Queue)
		if err != nil {
			return fmt.Errorf("connect job queue: %w", err)
		}
		defer func() { _ = client.Close() }()
		opts = append(opts, server.WithQueue(client))
	}

	srv, err := server.NewServer(a.cfg.Server, svc, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	timeout := time.Duration(a.cfg.Server.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting recognition server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	shutdown := time.Duration(a.cfg.Server.ShutdownTimeoutSec) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}
