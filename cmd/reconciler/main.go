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

	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"

	"github.com/kirillkom/doc-curator/internal/bootstrap"
	"github.com/kirillkom/doc-curator/internal/config"
	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New("reconciler", logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "reconciler", logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(cfg.ReconcileVersionsCron, func() {
		stats, err := app.Reconciler.RunVersionReconciliation(ctx, cfg.ReconcileBatchLimit)
		logRun(logger, "versions", err, "processed", stats.Processed, "duplicates_found", stats.DuplicatesFound, "deleted", stats.Deleted, "errors", stats.Errors)
	}); err != nil {
		logger.Error("invalid_schedule", "job", "versions", "spec", cfg.ReconcileVersionsCron, "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc(cfg.ReconcileExpirationsCron, func() {
		stats, err := app.Reconciler.RunExpirationReconciliation(ctx, cfg.ReconcileBatchLimit)
		logRun(logger, "expirations", err, "processed", stats.Processed, "expired_by_metadata", stats.ExpiredByMetadata, "expired_by_ai", stats.ExpiredByAI, "deleted", stats.Deleted, "errors", stats.Errors)
	}); err != nil {
		logger.Error("invalid_schedule", "job", "expirations", "spec", cfg.ReconcileExpirationsCron, "error", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.ReconcilerMetricsPort,
		Handler:           app.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("reconciler_metrics_server_failed", "error", err)
		}
	}()

	scheduler.Start()
	logger.Info("reconciler_started",
		"versions_cron", cfg.ReconcileVersionsCron,
		"expirations_cron", cfg.ReconcileExpirationsCron,
		"batch_limit", cfg.ReconcileBatchLimit,
	)

	<-ctx.Done()
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

func logRun(logger *slog.Logger, job string, err error, attrs ...any) {
	attrs = append([]any{"job", job}, attrs...)
	switch {
	case err == nil:
		logger.Info("reconciliation_finished", attrs...)
	case domain.IsKind(err, domain.ErrReconciliationBusy):
		logger.Warn("reconciliation_skipped", append(attrs, "reason", "another run holds the lock")...)
	default:
		logger.Error("reconciliation_failed", append(attrs, "error", err)...)
	}
}
