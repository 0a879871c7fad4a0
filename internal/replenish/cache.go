package replenish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SummaryCache keeps the latest generation summary per store in Redis so
// dashboards don't rerun the engine just to show counts.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache builds the cache. A zero ttl defaults to 15 minutes.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(storeID string) string {
	return fmt.Sprintf("replenish:summary:%s", storeID)
}

// Put stores a store's summary.
func (c *SummaryCache) Put(ctx context.Context, storeID string, summary Summary) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey(storeID), payload, c.ttl).Err()
}

// Get returns the cached summary, reporting whether one was present.
func (c *SummaryCache) Get(ctx context.Context, storeID string) (Summary, bool, error) {
	if c == nil || c.client == nil {
		return Summary{}, false, nil
	}
	payload, err := c.client.Get(ctx, summaryKey(storeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	var summary Summary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return Summary{}, false, err
	}
	return summary, true, nil
}

// Invalidate drops the cached summary, typically after approval or clear.
func (c *SummaryCache) Invalidate(ctx context.Context, storeID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, summaryKey(storeID)).Err()
}
