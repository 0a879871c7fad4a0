package pos

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryReader computes per-SKU daily demand series from completed sales.
// Days are bucketed in the store's local zone; refunded and voided sales are
// excluded entirely.
type HistoryReader struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewHistoryReader constructs HistoryReader.
func NewHistoryReader(pool *pgxpool.Pool, loc *time.Location) *HistoryReader {
	if loc == nil {
		loc = time.UTC
	}
	return &HistoryReader{pool: pool, loc: loc}
}

// History returns, for each requested product, a series of exactly windowDays
// daily quantities, oldest first. Days without sales are zero. Products with
// no sales at all still get a full zero series.
func (r *HistoryReader) History(ctx context.Context, storeID string, productIDs []int64, windowDays int) (map[int64][]int64, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("pos: window days must be positive, got %d", windowDays)
	}
	result := make(map[int64][]int64, len(productIDs))
	for _, id := range productIDs {
		result[id] = make([]int64, windowDays)
	}
	if len(productIDs) == 0 {
		return result, nil
	}

	now := time.Now().In(r.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
	windowStart := today.AddDate(0, 0, -(windowDays - 1))

	rows, err := r.pool.Query(ctx, `SELECT sl.product_id, (s.created_at AT TIME ZONE $4)::date, SUM(sl.qty)
FROM sale_lines sl
JOIN sales s ON s.id = sl.sale_id
WHERE s.store_id = $1
  AND s.status = 'COMPLETED'
  AND sl.product_id = ANY($2)
  AND s.created_at >= $3
GROUP BY sl.product_id, (s.created_at AT TIME ZONE $4)::date`,
		storeID, productIDs, windowStart.UTC(), r.loc.String())
	if err != nil {
		return nil, fmt.Errorf("pos: sales history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID int64
		var day time.Time
		var qty int64
		if err := rows.Scan(&productID, &day, &qty); err != nil {
			return nil, err
		}
		series, ok := result[productID]
		if !ok {
			continue
		}
		localDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, r.loc)
		idx := int(localDay.Sub(windowStart).Hours() / 24)
		if idx >= 0 && idx < windowDays {
			series[idx] += qty
		}
	}
	return result, rows.Err()
}
