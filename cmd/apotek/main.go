package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/apotek-pos/apotek/internal/app"
	"github.com/apotek-pos/apotek/internal/catalog"
	"github.com/apotek-pos/apotek/internal/ledger"
	"github.com/apotek-pos/apotek/internal/platform/cache"
	"github.com/apotek-pos/apotek/internal/platform/db"
	"github.com/apotek-pos/apotek/internal/pos"
	"github.com/apotek-pos/apotek/internal/receiving"
	"github.com/apotek-pos/apotek/internal/replenish"
	"github.com/apotek-pos/apotek/internal/shared"
	"github.com/apotek-pos/apotek/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger)
	ledgerHandler := ledger.NewHandler(ledgerService)

	posRepo := pos.NewRepository(pool)
	posService := pos.NewService(posRepo, auditLogger)
	posHandler := pos.NewHandler(posService)

	receivingRepo := receiving.NewRepository(pool)
	receivingService := receiving.NewService(receivingRepo, idempotencyStore, auditLogger)
	receivingHandler := receiving.NewHandler(receivingService)

	historyReader := pos.NewHistoryReader(pool, cfg.Location())
	replenishRepo := replenish.NewRepository(pool)
	generator := replenish.NewGenerator(catalogRepo, ledgerRepo, historyReader, replenishRepo, logger, cfg.Location())
	replenishService := replenish.NewService(replenishRepo, catalogRepo, auditLogger)
	summaryCache := replenish.NewSummaryCache(redisClient, cfg.SummaryCacheTTL)
	replenishHandler := replenish.NewHandler(generator, replenishService, summaryCache, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ReplenishHandler: replenishHandler,
		InventoryHandler: ledgerHandler,
		SalesHandler:     posHandler,
		ReceivingHandler: receivingHandler,
		JobsHandler:      jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
