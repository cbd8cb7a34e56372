package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-dashboard/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-dashboard/internal/jobs"
	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/db"
	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
	"github.com/odyssey-erp/odyssey-dashboard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	permissionService := permissions.NewService(permissions.NewRepository(pool), permissions.ServiceConfig{
		Cache:  permissions.NewCache(redisClient, cfg.PermissionsCacheTTL),
		Logger: logger,
	})

	auditJob := jobs.NewAuditDiffJob(shared.NewAuditLogger(pool), logger, metrics)
	integrityJob := jobs.NewIntegrityJob(permissionService, shared.NewIdempotencyStore(pool), logger, metrics)

	integrityTask, err := jobs.NewIntegrityTask("nightly", cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPermissionsAuditDiff, Handler: auditJob.Handle},
			{Type: jobs.TaskPermissionsIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegritySchedule, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
