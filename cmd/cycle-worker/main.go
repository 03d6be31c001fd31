package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/baitlab/scambaiter/cmd/mainconfig"
	"github.com/baitlab/scambaiter/internal/archive"
	appconfig "github.com/baitlab/scambaiter/internal/config"
	"github.com/baitlab/scambaiter/internal/cycle"
	"github.com/baitlab/scambaiter/internal/handoff"
	"github.com/baitlab/scambaiter/internal/notify"
	"github.com/baitlab/scambaiter/internal/observability/metrics"
	"github.com/baitlab/scambaiter/internal/promptctx"
	"github.com/baitlab/scambaiter/internal/store"
	"github.com/baitlab/scambaiter/internal/worker"
	"github.com/baitlab/scambaiter/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.DatabaseURL == "" || cfg.CycleQueueURL == "" {
		logger.Error("cycle worker requires DATABASE_URL and CYCLE_QUEUE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	projCache := promptctx.NewRedisCache(redisClient, cfg.PromptCacheTTL)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	st := store.NewSQLStore(db, projCache, logger)

	llmClient, err := mainconfig.NewLLMClient(ctx, cfg, awsConfig)
	if err != nil {
		logger.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}

	builder := promptctx.NewBuilder(st,
		promptctx.WithCache(projCache),
		promptctx.WithMinTail(cfg.PromptMinTail),
		promptctx.WithLogger(logger),
	)

	coreMetrics := metrics.NewCoreMetrics(nil)

	archiveStore := archive.NewStore(s3.NewFromConfig(awsConfig), cfg.ArchiveBucket, logger)
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

	sqsClient := sqs.NewFromConfig(awsConfig)
	cycleQueue := handoff.NewSQSQueue(sqsClient, cfg.CycleQueueURL)
	jobStore := worker.NewJobStore(dynamodb.NewFromConfig(awsConfig), cfg.CycleJobsTable, logger)

	opts := []worker.WorkerOption{
		worker.WithWorkerCount(cfg.WorkerCount),
		worker.WithJobUpdater(jobStore),
	}
	if notifier := newEscalationNotifier(cfg, awsConfig, logger); notifier != nil {
		opts = append(opts, worker.WithEscalationNotifier(notifier))
	}

	w := worker.NewWorker(runner, cycleQueue, logger, opts...)
	w.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down cycle worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		w.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("cycle worker stopped")
	case <-doneCtx.Done():
		logger.Error("cycle worker shutdown timed out", "error", doneCtx.Err())
	}
}

// newEscalationNotifier wires escalation alerts over SendGrid or SES,
// whichever is configured. Returns nil when neither is, which the worker
// treats as notifications disabled.
func newEscalationNotifier(cfg *appconfig.Config, awsConfig aws.Config, logger *logging.Logger) *notify.Service {
	recipients := splitRecipients(cfg.EscalationEmailTo)
	if len(recipients) == 0 {
		return nil
	}

	var sender notify.EmailSender
	if cfg.SendGridAPIKey != "" {
		sender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	} else if cfg.SESFromEmail != "" {
		sender = notify.NewSESSender(sesv2.NewFromConfig(awsConfig), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	}
	if sender == nil {
		logger.Warn("escalation recipients configured but no email sender; alerts disabled")
		return nil
	}

	return notify.NewService(sender, notify.ServiceConfig{Recipients: recipients}, logger)
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
