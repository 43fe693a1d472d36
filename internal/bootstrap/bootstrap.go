package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/doc-curator/internal/config"
	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
	"github.com/kirillkom/doc-curator/internal/core/usecase"
	"github.com/kirillkom/doc-curator/internal/infrastructure/crypto/aesecb"
	"github.com/kirillkom/doc-curator/internal/infrastructure/extraction"
	"github.com/kirillkom/doc-curator/internal/infrastructure/extraction/local"
	"github.com/kirillkom/doc-curator/internal/infrastructure/extraction/remote"
	"github.com/kirillkom/doc-curator/internal/infrastructure/kb/dify"
	"github.com/kirillkom/doc-curator/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/doc-curator/internal/infrastructure/llm/openai"
	redislock "github.com/kirillkom/doc-curator/internal/infrastructure/lock/redis"
	"github.com/kirillkom/doc-curator/internal/infrastructure/queue/nats"
	"github.com/kirillkom/doc-curator/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/doc-curator/internal/infrastructure/resilience"
	"github.com/kirillkom/doc-curator/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/doc-curator/internal/infrastructure/storage/s3"
	"github.com/kirillkom/doc-curator/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics

	Queue      ports.MessageQueue
	Pipeline   *usecase.PipelineUseCase
	Reconciler *usecase.ReconciliationService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pipelineMetrics := metrics.NewPipelineMetrics(service)
	guard := func(dependency string, rc resilience.Config) *resilience.Executor {
		return resilience.NewExecutor(dependency, rc,
			resilience.WithLogger(logger),
			resilience.WithObserver(pipelineMetrics),
		)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers := []func(){func() { _ = db.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}

	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fail(fmt.Errorf("ensure schema: %w", err))
	}
	routes := postgres.NewRoutingRepository(db)
	if err := seedRouting(ctx, routes, cfg, logger); err != nil {
		return fail(fmt.Errorf("seed routing: %w", err))
	}

	source, err := s3.New(s3.Config{
		Endpoint:       cfg.S3Endpoint,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		Region:         cfg.S3Region,
		Bucket:         cfg.S3Bucket,
		UseSSL:         cfg.S3UseSSL,
		MaxObjectBytes: cfg.S3MaxObjectBytes,
	}, guard("s3", cfg.Resilience))
	if err != nil {
		return fail(fmt.Errorf("init source storage: %w", err))
	}
	artifacts, err := localfs.New(cfg.ArtifactPath)
	if err != nil {
		return fail(fmt.Errorf("init artifact storage: %w", err))
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		Concurrency:        cfg.WorkerConcurrency,
		ResilienceExecutor: guard("nats", cfg.Resilience),
		Logger:             logger,
	})
	if err != nil {
		return fail(fmt.Errorf("init message queue: %w", err))
	}
	closers = append(closers, queue.Close)

	policy := domain.DefaultChunkPolicy()
	policy.MaxChunkSize = cfg.ChunkSize
	policy.Overlap = cfg.ChunkOverlap
	extractor := extraction.NewExtractor(
		local.NewHandler(policy),
		remote.New(cfg.ExtractionURL, remote.Options{
			Timeout:            cfg.ExtractionTimeout,
			Policy:             &policy,
			ResilienceExecutor: guard("extraction", cfg.Resilience),
		}),
		cfg.ExtractionRemoteTypes,
		logger,
	)
	decrypter := aesecb.New()

	llm, err := newInferenceClient(cfg, guard("inference", resilience.NoRetry(cfg.Resilience)))
	if err != nil {
		return fail(fmt.Errorf("init inference client: %w", err))
	}

	segmentation := dify.DefaultSegmentation()
	segmentation.ParentMaxTokens = cfg.DifyParentMaxTokens
	segmentation.ChildMaxTokens = cfg.DifyChildMaxTokens
	segmentation.ChildOverlap = cfg.DifyChildOverlap
	segmentation.DocLanguage = cfg.DifyDocLanguage
	kb := dify.New(cfg.DifyURL, cfg.DifyAPIKey, dify.Options{
		Timeout:            cfg.DifyTimeout,
		Segmentation:       &segmentation,
		ResilienceExecutor: guard("dify", resilience.NoRetry(cfg.Resilience)),
		DeleteExecutor:     guard("dify", cfg.Resilience),
	})

	decider := usecase.NewDecisionEngine(routes, repo, llm, usecase.DecisionConfig{
		OutputMode:              usecase.ParseStructuredOutputMode(cfg.LLMOutputMode),
		DefaultKnowledgeStoreID: cfg.DefaultKnowledgeStoreID,
		MinConfidence:           cfg.MinConfidence,
		AutoApproveConfidence:   cfg.AutoApproveConfidence,
		SummaryMaxChars:         cfg.SummaryMaxChars,
		PromptMaxChars:          cfg.PromptMaxChars,
		Temperature:             cfg.LLMTemperature,
		MaxTokens:               cfg.LLMMaxTokens,
	}, logger)
	publisher := usecase.NewPublisher(kb, routes, repo, cfg.DefaultKnowledgeStoreID, logger)

	pipeline := usecase.NewPipelineUseCase(repo, source, artifacts, decrypter, extractor, decider, publisher, queue, usecase.PipelineOptions{
		AnalysisMaxChars: cfg.AnalysisMaxChars,
		StageLease:       cfg.WorkerRunTimeout,
		Observer:         pipelineMetrics,
		Logger:           logger,
	})

	previews := usecase.NewPreviewFetcher(source, decrypter, extractor)
	versions := usecase.NewVersionReconciler(repo, previews, decider, publisher, usecase.VersionReconcileConfig{
		Category:         domain.Category(cfg.ReconcileVersionCategory),
		RevisionKeywords: cfg.ReconcileRevisionKeywords,
		PreviewChars:     cfg.PreviewChars,
	}, logger)
	expirations := usecase.NewExpirationReconciler(repo, previews, decider, publisher, usecase.ExpirationReconcileConfig{
		ExcludeCategory: domain.Category(cfg.ReconcileExcludeCategory),
		PreviewChars:    cfg.PreviewChars,
	}, logger)

	var locker ports.Locker
	if cfg.RedisAddr != "" {
		redisLocker, err := redislock.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fail(fmt.Errorf("init reconciliation lock: %w", err))
		}
		closers = append(closers, func() { _ = redisLocker.Close() })
		locker = redisLocker
	} else {
		logger.Warn("reconciliation_lock_disabled", "reason", "REDIS_ADDR is empty")
	}
	reconciler := usecase.NewReconciliationService(versions, expirations, locker, cfg.ReconcileLockTTL, pipelineMetrics, logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: pipelineMetrics,

		Queue:      queue,
		Pipeline:   pipeline,
		Reconciler: reconciler,

		closeFn: closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newInferenceClient(cfg config.Config, executor *resilience.Executor) (ports.InferenceClient, error) {
	switch cfg.LLMProvider {
	case "ollama":
		return ollama.New(cfg.OllamaURL, cfg.OllamaModel, ollama.Options{
			Timeout:            cfg.LLMTimeout,
			RequestsPerMinute:  cfg.LLMRequestsPerMinute,
			Burst:              cfg.LLMBurst,
			ResilienceExecutor: executor,
		}), nil
	case "openai", "":
		return openai.New(openai.Options{
			BaseURL:            cfg.OpenAIBaseURL,
			APIKey:             cfg.OpenAIAPIKey,
			Model:              cfg.OpenAIModel,
			Timeout:            cfg.LLMTimeout,
			RequestsPerMinute:  cfg.LLMRequestsPerMinute,
			Burst:              cfg.LLMBurst,
			ResilienceExecutor: executor,
		})
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// seedRouting upserts the stores and routings of the routing file. The default
// store must exist once the file defines any store.
func seedRouting(ctx context.Context, routes ports.RoutingRepository, cfg config.Config, logger *slog.Logger) error {
	catalog, err := config.LoadRouting(cfg.RoutingFile)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, store := range catalog.Stores {
		if store.CreatedAt.IsZero() {
			store.CreatedAt = now
		}
		if err := routes.UpsertKnowledgeStore(ctx, store); err != nil {
			return err
		}
	}
	for _, routing := range catalog.Routings {
		routing.UpdatedAt = now
		if err := routes.UpsertRouting(ctx, routing); err != nil {
			return err
		}
	}
	if len(catalog.Stores) > 0 {
		if _, err := routes.GetKnowledgeStore(ctx, cfg.DefaultKnowledgeStoreID); err != nil {
			return fmt.Errorf("default knowledge store %q: %w", cfg.DefaultKnowledgeStoreID, err)
		}
	}
	logger.Info("routing_seeded", "file", cfg.RoutingFile, "stores", len(catalog.Stores), "routings", len(catalog.Routings))
	return nil
}
