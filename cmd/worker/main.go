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
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/doc-curator/internal/bootstrap"
	"github.com/kirillkom/doc-curator/internal/config"
	"github.com/kirillkom/doc-curator/internal/core/usecase"
	"github.com/kirillkom/doc-curator/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New("worker", logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker_exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker", logger)
	if err != nil {
		return err
	}
	defer app.Close()

	handler := usecase.NewWorkerHandler(app.Pipeline, usecase.WorkerOptions{
		MaxAttempts: cfg.WorkerMaxAttempts,
		RetryDelay:  cfg.WorkerRetryDelay,
		Observer:    app.Metrics,
		Logger:      logger,
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("worker_started",
			"subject", cfg.NATSSubject,
			"concurrency", cfg.WorkerConcurrency,
			"metrics_port", cfg.WorkerMetricsPort,
		)
		return app.Queue.SubscribeDocuments(gctx, func(msgCtx context.Context, documentID string) error {
			runCtx, cancel := context.WithTimeout(msgCtx, cfg.WorkerRunTimeout)
			defer cancel()
			return handler.Handle(runCtx, documentID)
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
