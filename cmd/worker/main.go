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

	"github.com/kirillkom/expert-match/internal/bootstrap"
	"github.com/kirillkom/expert-match/internal/config"
	"github.com/kirillkom/expert-match/internal/observability/logging"
	"github.com/kirillkom/expert-match/internal/observability/metrics"
)

const (
	serviceName  = "worker"
	indexTimeout = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.WithMetrics(serviceName, workerMetrics.Registerer()))
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("worker_metrics_server_failed", "error", err.Error())
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeExpertIngested(ctx, func(handlerCtx context.Context, expertID string) error {
		indexCtx, cancel := context.WithTimeout(handlerCtx, indexTimeout)
		defer cancel()

		origin := metrics.OriginUnknown
		if profile, err := app.Experts.GetByID(indexCtx, expertID); err == nil {
			origin = metrics.ProfileOrigin(profile)
			workerMetrics.ObserveIngestLag(profile, time.Now())
		}

		start := time.Now()
		done := workerMetrics.TrackIndex(origin)
		err := app.IndexUC.IndexByID(indexCtx, expertID)
		done(err)
		if err != nil {
			return err
		}
		slog.Info("expert_indexed", "expert_id", expertID, "origin", origin, "duration_ms", time.Since(start).Milliseconds())
		return nil
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err.Error())
		os.Exit(1)
	}
}
