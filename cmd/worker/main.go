package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/apotek-pos/apotek/internal/app"
	"github.com/apotek-pos/apotek/internal/catalog"
	"github.com/apotek-pos/apotek/internal/ledger"
	"github.com/apotek-pos/apotek/internal/platform/cache"
	"github.com/apotek-pos/apotek/internal/platform/db"
	"github.com/apotek-pos/apotek/internal/pos"
	"github.com/apotek-pos/apotek/internal/replenish"
	"github.com/apotek-pos/apotek/internal/shared"
	"github.com/apotek-pos/apotek/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	catalogRepo := catalog.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	historyReader := pos.NewHistoryReader(pool, cfg.Location())
	replenishRepo := replenish.NewRepository(pool)
	generator := replenish.NewGenerator(catalogRepo, ledgerRepo, historyReader, replenishRepo, logger, cfg.Location())
	summaryCache := replenish.NewSummaryCache(redisClient, cfg.SummaryCacheTTL)

	generateJob := jobs.NewReplenishGenerateJob(generator, summaryCache, logger, cfg.GenerateStores)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger)

	generateTask, err := jobs.NewReplenishGenerateTask(jobs.ReplenishGeneratePayload{})
	if err != nil {
		logger.Error("build generate task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Location:  cfg.Location(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReplenishGenerate, Handler: generateJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			// Before the earliest supplier cutoff so the morning review sees
			// fresh suggestions.
			{Spec: "30 5 * * *", Task: generateTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
