// Command batchd is the shortlist-batch daemon: it wires the Scheduler
// (C9) to the fixed INIT/IMPORT/MATCHING/EMAIL_QUEUE/CLEANUP pipeline and
// runs it nightly until stopped, draining in-flight work on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nagata-labs/shortlist-batch/internal/batch"
	"github.com/nagata-labs/shortlist-batch/internal/boltstore"
	"github.com/nagata-labs/shortlist-batch/internal/cache"
	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/observability"
	"github.com/nagata-labs/shortlist-batch/internal/phase"
	"github.com/nagata-labs/shortlist-batch/internal/platform/logger"
	"github.com/nagata-labs/shortlist-batch/internal/platform/postgres"
	"github.com/nagata-labs/shortlist-batch/internal/platform/redis"
	"github.com/nagata-labs/shortlist-batch/internal/platform/storage"
	"github.com/nagata-labs/shortlist-batch/internal/repository"
	"github.com/nagata-labs/shortlist-batch/internal/scheduler"
	"github.com/nagata-labs/shortlist-batch/internal/supplement"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			zapLogger.Warn("failed to initialize Sentry, alert reporting disabled", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	zapLogger.Info("starting shortlist-batch daemon", zap.String("timezone", cfg.Scheduler.Timezone))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgClient, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		zapLogger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgClient.Close()

	if err := postgres.RunMigrations(ctx, cfg.Database, zapLogger, "./migrations"); err != nil {
		zapLogger.Fatal("failed to run database migrations", zap.Error(err))
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		zapLogger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	boltStore, err := boltstore.Open(cfg.Bolt.Path)
	if err != nil {
		zapLogger.Fatal("failed to open local checkpoint/lock store", zap.Error(err))
	}
	defer boltStore.Close()

	var s3Client *storage.S3Client
	if cfg.S3.Endpoint != "" && cfg.S3.Bucket != "" {
		s3Client, err = storage.NewS3Client(cfg.S3)
		if err != nil {
			zapLogger.Warn("failed to initialize S3 client, report upload disabled", zap.Error(err))
		}
	}

	gateway := repository.NewPostgresGateway(pgClient.Pool)
	tiers := cache.NewTiers(redisClient)
	counters := observability.NewCounters("shortlist_batch")
	enricher := supplement.NewClaudeEnricher(cfg.LLM)

	pipeline := &batch.Pipeline{
		Gateway:  gateway,
		Tiers:    tiers,
		Counters: counters,
		Report:   observability.NewReportWriter(s3Client),
		Cfg:      cfg,
		Log:      zapLogger,
		Enricher: enricher,
	}

	runner := phase.New(gateway, zapLogger, cfg.Matching.BatchSize)
	thresholds := observability.AlertThresholds{
		MaxRunDuration: cfg.Perf.TotalRuntime,
		MaxErrorRate:   0.10,
	}

	holder, _ := os.Hostname()
	if holder == "" {
		holder = "batchd"
	}
	holder = fmt.Sprintf("%s:%d", holder, os.Getpid())

	sched := scheduler.New(cfg.Scheduler, boltStore, zapLogger, holder, scheduler.NewProcessSampler())

	nightlyRun := func(execCtx context.Context) error {
		batchID := time.Now().Format("20060102-150405")
		run := model.NewBatchRun(batchID, time.Now())

		log := zapLogger.WithBatchID(batchID)
		log.Info("starting nightly batch run")

		specs := pipeline.Specs(run)
		runErr := runner.RunAll(execCtx, run, specs)
		end := time.Now()
		run.EndedAt = &end

		if err := gateway.SaveBatchRun(execCtx, run); err != nil {
			log.Warn("failed to persist batch run record", zap.Error(err))
		}
		if err := observability.RaiseIfBreached(execCtx, gateway, run, thresholds); err != nil {
			log.Warn("failed to raise alert", zap.Error(err))
		}

		if runErr != nil {
			log.Error("nightly batch run failed", zap.Error(runErr))
			return runErr
		}
		log.Info("nightly batch run completed", zap.Float64("success_rate", run.SuccessRate()))
		return nil
	}

	nightlyJob := scheduler.NewJobSpec(
		"nightly-matching-run",
		"Nightly job matching and shortlist batch",
		scheduler.Trigger{Kind: scheduler.TriggerCron, Cron: "0 2 * * *", Timezone: cfg.Scheduler.Timezone},
		nightlyJobFunc(nightlyRun),
		scheduler.JobDefaults{
			Coalesce:     cfg.Scheduler.DefaultCoalesce,
			MaxInstances: cfg.Scheduler.DefaultMaxInstances,
			MisfireGrace: cfg.Scheduler.DefaultMisfireGrace,
		},
	)
	nightlyJob.Priority = scheduler.PriorityCritical
	nightlyJob.Retry = scheduler.RetryPolicy{
		MaxAttempts:   cfg.Scheduler.MaxRetries,
		BackoffFactor: cfg.Scheduler.RetryBackoffFactor,
		MaxDelay:      cfg.Scheduler.RetryMaxDelay,
		BaseDelay:     time.Second,
	}
	nightlyJob.ResourceLimits = scheduler.ResourceLimits{TimeoutS: int(cfg.Perf.TotalRuntime.Seconds())}

	if err := sched.Register(nightlyJob); err != nil {
		zapLogger.Fatal("failed to register nightly job", zap.Error(err))
	}

	sched.Run(ctx)
	zapLogger.Info("shortlist-batch daemon stopped")
}

func nightlyJobFunc(run func(context.Context) error) scheduler.Func {
	return func(ctx context.Context) error { return run(ctx) }
}
