// Command admin is the shortlist-batch operator CLI (spec §6): run-now,
// status, list, cancel, backup-config, restore-config, health. Exit codes
// follow spec §6: 0 success, 1 user error, 2 transient failure (retryable),
// 3 fatal.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nagata-labs/shortlist-batch/internal/batch"
	"github.com/nagata-labs/shortlist-batch/internal/cache"
	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/observability"
	"github.com/nagata-labs/shortlist-batch/internal/phase"
	"github.com/nagata-labs/shortlist-batch/internal/platform/logger"
	"github.com/nagata-labs/shortlist-batch/internal/platform/postgres"
	"github.com/nagata-labs/shortlist-batch/internal/platform/redis"
	"github.com/nagata-labs/shortlist-batch/internal/repository"
)

const (
	exitSuccess   = 0
	exitUserError = 1
	exitTransient = 2
	exitFatal     = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin <run-now|status|list|cancel|backup-config|restore-config|health> [args...]")
		return exitUserError
	}

	cmd, rest := args[0], args[1:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitFatal
	}

	switch cmd {
	case "backup-config":
		return backupConfig(cfg, rest)
	case "restore-config":
		return restoreConfig(rest)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return exitFatal
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgClient, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		return exitTransient
	}
	defer pgClient.Close()
	gateway := repository.NewPostgresGateway(pgClient.Pool)

	switch cmd {
	case "health":
		return health(ctx, cfg, gateway)
	case "run-now":
		return runNow(ctx, cfg, gateway, log, rest)
	case "status":
		return status(ctx, gateway, rest)
	case "list":
		return list(ctx, gateway, rest)
	case "cancel":
		return cancelRun(ctx, gateway, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return exitUserError
	}
}

func health(ctx context.Context, cfg *config.Config, gateway repository.Gateway) int {
	if err := gateway.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres unhealthy: %v\n", err)
		return exitTransient
	}
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis unhealthy: %v\n", err)
		return exitTransient
	}
	defer redisClient.Close()
	fmt.Println("ok")
	return exitSuccess
}

func runNow(ctx context.Context, cfg *config.Config, gateway repository.Gateway, log *logger.Logger, args []string) int {
	fs := flag.NewFlagSet("run-now", flag.ContinueOnError)
	force := fs.Bool("force", false, "run even if a batch is already RUNNING")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}

	if !*force {
		runs, err := gateway.ListBatchRuns(ctx, model.RunRunning)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to check for in-flight runs: %v\n", err)
			return exitTransient
		}
		if len(runs) > 0 {
			fmt.Fprintf(os.Stderr, "a batch run is already in progress (%s); pass --force to override\n", runs[0].BatchID)
			return exitUserError
		}
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis connection failed: %v\n", err)
		return exitTransient
	}
	defer redisClient.Close()

	tiers := cache.NewTiers(redisClient)
	pipeline := &batch.Pipeline{
		Gateway:  gateway,
		Tiers:    tiers,
		Counters: observability.NewCounters("shortlist_batch_admin"),
		Cfg:      cfg,
		Log:      log,
	}
	runner := phase.New(gateway, log, cfg.Matching.BatchSize)

	batchID := time.Now().Format("20060102-150405")
	batchRun := model.NewBatchRun(batchID, time.Now())

	runErr := runner.RunAll(ctx, batchRun, pipeline.Specs(batchRun))
	end := time.Now()
	batchRun.EndedAt = &end
	_ = gateway.SaveBatchRun(ctx, batchRun)

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "run %s failed: %v\n", batchID, runErr)
		return exitTransient
	}
	fmt.Printf("run %s completed: success_rate=%.3f\n", batchID, batchRun.SuccessRate())
	return exitSuccess
}

func status(ctx context.Context, gateway repository.Gateway, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin status <batch_id>")
		return exitUserError
	}
	run, err := gateway.LoadBatchRun(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load batch run: %v\n", err)
		return exitTransient
	}
	if run == nil {
		fmt.Fprintf(os.Stderr, "batch run %s not found\n", args[0])
		return exitUserError
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(run.BuildSummary())
	return exitSuccess
}

func list(ctx context.Context, gateway repository.Gateway, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	statusFilter := fs.String("status", "", "filter by run status")
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	runs, err := gateway.ListBatchRuns(ctx, model.RunStatus(*statusFilter))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list batch runs: %v\n", err)
		return exitTransient
	}
	for _, r := range runs {
		fmt.Printf("%s\t%s\tsuccess_rate=%.3f\n", r.BatchID, r.Status, r.SuccessRate())
	}
	return exitSuccess
}

func cancelRun(ctx context.Context, gateway repository.Gateway, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin cancel <batch_id>")
		return exitUserError
	}
	if err := gateway.CancelBatchRun(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "failed to cancel batch run: %v\n", err)
		return exitUserError
	}
	fmt.Printf("batch run %s cancelled\n", args[0])
	return exitSuccess
}

func backupConfig(cfg *config.Config, args []string) int {
	path := "shortlist-batch-config-backup.yaml"
	if len(args) > 0 {
		path = args[0]
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitFatal
	}
	if err := os.WriteFile(path, body, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write config backup: %v\n", err)
		return exitFatal
	}
	fmt.Printf("config backed up to %s\n", path)
	return exitSuccess
}

func restoreConfig(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin restore-config <file>")
		return exitUserError
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read config backup: %v\n", err)
		return exitUserError
	}
	var restored config.Config
	if err := yaml.Unmarshal(body, &restored); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config backup: %v\n", err)
		return exitUserError
	}
	if err := restored.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "restored config is invalid: %v\n", err)
		return exitUserError
	}
	// This daemon reads configuration from the environment at startup
	// (12-factor); restore-config validates the backup and reports the
	// settings an operator must re-apply as env vars before restart.
	fmt.Printf("config backup %s is valid; re-apply its values as environment variables before restarting batchd\n", args[0])
	return exitSuccess
}
