package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/ledger/internal/jobs"
	"github.com/odyssey-erp/ledger/internal/platform/cache"
	"github.com/odyssey-erp/ledger/internal/platform/db"
	"github.com/odyssey-erp/ledger/jobs"
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

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.DBOptions("worker"))
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

	ledger, err := accounting.New(pool, redisClient, cfg.LedgerConfig(nil), logger)
	if err != nil {
		logger.Error("wire ledger", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := jobmetrics.NewMetrics(nil)

	integrityJob := jobs.NewGLIntegrityJob(ledger.Accounts, ledger.Balances, logger, metrics)
	closeJob := jobs.NewPeriodCloseJob(ledger, logger, metrics)

	integrityTask, err := jobs.NewGLIntegrityTask(jobs.GLIntegrityPayload{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskPeriodClose, Handler: closeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
