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

	httpadapter "github.com/kirillkom/doc-curator/internal/adapters/http"
	mcpadapter "github.com/kirillkom/doc-curator/internal/adapters/mcp"
	"github.com/kirillkom/doc-curator/internal/bootstrap"
	"github.com/kirillkom/doc-curator/internal/config"
	"github.com/kirillkom/doc-curator/internal/observability/logging"
	"github.com/kirillkom/doc-curator/internal/observability/metrics"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.New("api", logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api_exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "api", logger)
	if err != nil {
		return err
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.Pipeline, app.Reconciler).
		WithLogger(logger).
		WithMetrics(metrics.NewHTTPServerMetrics("api"))
	if cfg.MCPEnabled {
		router = router.WithMCP(mcpadapter.NewServer(app.Pipeline, app.Reconciler).HTTPHandler())
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listening", "port", cfg.APIPort, "mcp_enabled", cfg.MCPEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
