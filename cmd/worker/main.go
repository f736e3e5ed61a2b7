package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stewmckendry/health-assistant/internal/bootstrap"
	"github.com/stewmckendry/health-assistant/internal/config"
	"github.com/stewmckendry/health-assistant/internal/infrastructure/queue/nats"
	"github.com/stewmckendry/health-assistant/internal/observability/logging"
	"github.com/stewmckendry/health-assistant/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    "worker",
		Logger:     logger,
		Registerer: workerMetrics.Registry(),
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		Name:               "evidence-worker",
		ResilienceExecutor: app.Executor,
		Logger:             logger,
	})
	if err != nil {
		slog.Error("nats_connect_failed", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	err = queue.Serve(ctx, app.Engine, nats.ServeOptions{
		QueueGroup:     cfg.NATSQueueGroup,
		Concurrency:    cfg.WorkerPoolSize,
		RequestTimeout: cfg.NATSTimeout,
		Observer:       workerMetrics,
	})
	if err != nil {
		slog.Error("worker_serve_failed", "error", err)
		os.Exit(1)
	}
}
