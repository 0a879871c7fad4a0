package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/apotek-pos/apotek/internal/replenish"
)

// ReplenishGenerateJob regenerates pending suggestions for the configured
// stores, typically once per night before the morning ordering window.
type ReplenishGenerateJob struct {
	Generator *replenish.Generator
	Cache     *replenish.SummaryCache
	Logger    *slog.Logger

	// DefaultStores is used when the task payload names no stores.
	DefaultStores []string

	// PerStoreTimeout bounds one store's run so a slow store cannot starve
	// the rest of the batch. Zero means 5 minutes.
	PerStoreTimeout time.Duration

	clock func() time.Time
}

// NewReplenishGenerateJob wires dependencies for the generation handler.
func NewReplenishGenerateJob(generator *replenish.Generator, cache *replenish.SummaryCache, logger *slog.Logger, stores []string) *ReplenishGenerateJob {
	return &ReplenishGenerateJob{
		Generator:     generator,
		Cache:         cache,
		Logger:        logger,
		DefaultStores: stores,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskReplenishGenerate tasks. Stores run sequentially;
// parallelism lives inside the generator's per-SKU worker pool. A store that
// fails is logged and skipped so the remaining stores still get fresh
// suggestions, but the task is reported failed for retry.
func (j *ReplenishGenerateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Generator == nil {
		return errors.New("replenish generate: handler not configured")
	}
	var payload ReplenishGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	stores := payload.Stores
	if len(stores) == 0 {
		stores = j.DefaultStores
	}
	if len(stores) == 0 {
		j.logger().Info("no stores configured for scheduled generation")
		return nil
	}

	started := j.now()
	var resultErr error
	generated := 0
	for _, storeID := range stores {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary, err := j.generateStore(ctx, storeID, payload)
		if err != nil {
			resultErr = err
			j.logger().Error("generate suggestions",
				slog.String("store", storeID), slog.Any("error", err))
			continue
		}
		generated++
		j.logger().Info("generated suggestions",
			slog.String("store", storeID),
			slog.Int("products", summary.TotalProducts),
			slog.Int("critical", summary.CriticalProducts))
	}

	j.logger().Info("completed scheduled generation",
		slog.Int("stores", generated),
		slog.Duration("duration", time.Since(started)))
	return resultErr
}

func (j *ReplenishGenerateJob) generateStore(ctx context.Context, storeID string, payload ReplenishGeneratePayload) (replenish.Summary, error) {
	timeout := j.PerStoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	storeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := j.Generator.Generate(storeCtx, replenish.GenerateRequest{
		StoreID:                   storeID,
		CoverageDays:              payload.CoverageDays,
		ServiceLevel:              payload.ServiceLevel,
		AnalysisPeriodDays:        payload.AnalysisPeriodDays,
		IncludeSupplierComparison: true,
	})
	if err != nil {
		return replenish.Summary{}, err
	}
	if err := j.Cache.Put(storeCtx, storeID, result.Summary); err != nil {
		j.logger().Warn("summary cache write failed",
			slog.String("store", storeID), slog.Any("error", err))
	}
	return result.Summary, nil
}

func (j *ReplenishGenerateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReplenishGenerate))
	}
	return slog.Default().With(slog.String("job", TaskReplenishGenerate))
}

func (j *ReplenishGenerateJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
