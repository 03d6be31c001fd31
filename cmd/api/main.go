package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/baitlab/scambaiter/cmd/mainconfig"
	"github.com/baitlab/scambaiter/internal/api"
	"github.com/baitlab/scambaiter/internal/api/router"
	"github.com/baitlab/scambaiter/internal/archive"
	appconfig "github.com/baitlab/scambaiter/internal/config"
	"github.com/baitlab/scambaiter/internal/cycle"
	"github.com/baitlab/scambaiter/internal/handoff"
	"github.com/baitlab/scambaiter/internal/ingest"
	"github.com/baitlab/scambaiter/internal/llm"
	"github.com/baitlab/scambaiter/internal/observability/metrics"
	"github.com/baitlab/scambaiter/internal/promptctx"
	"github.com/baitlab/scambaiter/internal/store"
	"github.com/baitlab/scambaiter/internal/worker"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// storage is the superset of persistence surfaces the binary wires together.
// Both the SQL and the in-memory store satisfy it.
type storage interface {
	ingest.Store
	promptctx.Source
	cycle.Store
	handoff.Store
	api.Store
}

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting scambaiter API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient := newRedisClient(cfg)
	projCache := promptctx.NewRedisCache(redisClient, cfg.PromptCacheTTL)

	st, closeStore, err := openStore(cfg, projCache, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	llmClient, err := mainconfig.NewLLMClient(ctx, cfg, awsCfg)
	if err != nil {
		logger.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}

	// Ingest pipeline, with vision captions when a model is configured.
	ingestOpts := []ingest.Option{ingest.WithLogger(logger)}
	if cfg.VisionModel != "" {
		captioner := llm.NewRouterCaptioner(cfg.LLMToken, cfg.LLMBaseURL, cfg.VisionModel)
		ingestOpts = append(ingestOpts, ingest.WithCaptioner(captioner))
	}
	ingestor := ingest.NewIngestor(st, ingestOpts...)

	builder := promptctx.NewBuilder(st,
		promptctx.WithCache(projCache),
		promptctx.WithMinTail(cfg.PromptMinTail),
		promptctx.WithLogger(logger),
	)

	coreMetrics := metrics.NewCoreMetrics(nil)

	// Accepted attempts are archived behind the durable save when a bucket
	// is configured.
	archiveStore := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
	cycleStore := archive.Tee(st, archiveStore, logger)

	runner := cycle.NewRunner(cycleStore, builder, llmClient,
		cycle.WithModel(mainconfig.ModelID(cfg)),
		cycle.WithMaxTokens(cfg.LLMMaxTokens),
		cycle.WithTokenBudget(cfg.PromptTokenBudget),
		cycle.WithMaxAttempts(cfg.MaxGenerationAttempts),
		cycle.WithCallTimeout(cfg.LLMTimeout),
		cycle.WithMetrics(coreMetrics),
		cycle.WithRunnerLogger(logger),
	)

	apiCfg := api.Config{
		Ingestor: ingestor,
		Store:    st,
		Prompts:  builder,
		Cycles:   runner,
		Feedback: handoff.NewFeedbackStore(redisClient, cfg.FeedbackTTL),
		Metrics:  coreMetrics,
		Logger:   logger,
	}

	var inProcessWorker *worker.Worker
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	if cfg.UseMemoryQueue {
		// Local development: queues live in-process and a worker drains
		// the cycle queue alongside the API.
		actionQueue := handoff.NewMemoryQueue(0)
		cycleQueue := handoff.NewMemoryQueue(0)
		apiCfg.Queuer = handoff.NewService(st, actionQueue, handoff.WithServiceLogger(logger))
		apiCfg.Enqueuer = handoff.NewService(st, cycleQueue, handoff.WithServiceLogger(logger))
		inProcessWorker = worker.NewWorker(runner, cycleQueue, logger)
		inProcessWorker.Start(workerCtx)
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		if cfg.ActionQueueURL != "" {
			queue := handoff.NewSQSQueue(sqsClient, cfg.ActionQueueURL)
			apiCfg.Queuer = handoff.NewService(st, queue, handoff.WithServiceLogger(logger))
		}
		if cfg.CycleQueueURL != "" {
			queue := handoff.NewSQSQueue(sqsClient, cfg.CycleQueueURL)
			apiCfg.Enqueuer = handoff.NewService(st, queue, handoff.WithServiceLogger(logger))
			apiCfg.Jobs = worker.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.CycleJobsTable, logger)
		}
	}

	apiHandler := api.NewHandler(apiCfg)

	routerCfg := &router.Config{
		Logger:             logger,
		API:                apiHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if inProcessWorker != nil {
		stopWorker()
		inProcessWorker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// openStore picks PostgreSQL when DATABASE_URL is set, the in-memory store
// otherwise. The in-memory fallback keeps local development self-contained.
func openStore(cfg *appconfig.Config, cache store.ProjectionCache, logger *logging.Logger) (storage, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; falling back to in-memory store")
		return store.NewMemoryStore(cache), func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}
	return store.NewSQLStore(db, cache, logger), func() { _ = db.Close() }, nil
}
