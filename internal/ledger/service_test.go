package ledger

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	batches   map[int64]*Batch
	movements []StockMovement
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[int64]*Batch)}
}

func (r *memoryRepo) addBatch(b Batch) int64 {
	r.nextID++
	b.ID = r.nextID
	r.batches[b.ID] = &b
	return b.ID
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) CurrentStock(ctx context.Context, productID int64, storeID string) (int64, error) {
	var total int64
	for _, b := range r.batches {
		if b.ProductID == productID && b.StoreID == storeID {
			total += b.QtyOnHand
		}
	}
	return total, nil
}

func (r *memoryRepo) CurrentStockBulk(ctx context.Context, productIDs []int64, storeID string) (map[int64]int64, error) {
	result := map[int64]int64{}
	for _, id := range productIDs {
		qty, _ := r.CurrentStock(ctx, id, storeID)
		if qty > 0 {
			result[id] = qty
		}
	}
	return result, nil
}

func (r *memoryRepo) fefo(productID int64, storeID string) []Batch {
	batches := []Batch{}
	for _, b := range r.batches {
		if b.ProductID == productID && b.StoreID == storeID && b.QtyOnHand > 0 {
			batches = append(batches, *b)
		}
	}
	sort.Slice(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.Expiry == nil && b.Expiry == nil:
		case a.Expiry == nil:
			return false
		case b.Expiry == nil:
			return true
		case !a.Expiry.Equal(*b.Expiry):
			return a.Expiry.Before(*b.Expiry)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
	return batches
}

func (r *memoryRepo) BatchesFEFO(ctx context.Context, productID int64, storeID string) ([]Batch, error) {
	return r.fefo(productID, storeID), nil
}

func (r *memoryRepo) ExpiringBatches(ctx context.Context, storeID string, within time.Duration) ([]Batch, error) {
	cutoff := time.Now().Add(within)
	batches := []Batch{}
	for _, b := range r.batches {
		if b.StoreID == storeID && b.QtyOnHand > 0 && b.Expiry != nil && !b.Expiry.After(cutoff) {
			batches = append(batches, *b)
		}
	}
	return batches, nil
}

func (r *memoryRepo) MovementsForBatch(ctx context.Context, batchID int64) ([]StockMovement, error) {
	movements := []StockMovement{}
	for _, m := range r.movements {
		if m.BatchID == batchID {
			movements = append(movements, m)
		}
	}
	return movements, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	b, ok := tx.repo.batches[batchID]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return *b, nil
}

func (tx *memoryTx) BatchesFEFOForUpdate(ctx context.Context, productID int64, storeID string) ([]Batch, error) {
	return tx.repo.fefo(productID, storeID), nil
}

func (tx *memoryTx) FindBatchByNumberForUpdate(ctx context.Context, productID int64, storeID, batchNo string) (Batch, error) {
	for _, b := range tx.repo.batches {
		if b.ProductID == productID && b.StoreID == storeID && b.BatchNo == batchNo {
			return *b, nil
		}
	}
	return Batch{}, ErrBatchNotFound
}

func (tx *memoryTx) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	return tx.repo.addBatch(b), nil
}

func (tx *memoryTx) UpdateBatchQty(ctx context.Context, batchID, qty int64) error {
	b, ok := tx.repo.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.QtyOnHand = qty
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func expiry(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestApplyMovementUpdatesBatchAndAppends(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", BatchNo: "B1", QtyOnHand: 10, UnitCost: decimal.NewFromInt(5)})
	svc := NewService(repo, nil)

	after, err := svc.ApplyMovement(context.Background(), MovementInput{
		BatchID: id, StoreID: "S1", Type: MovementSale, Qty: -4,
	})
	require.NoError(t, err)
	require.EqualValues(t, 6, after.QtyOnHand)

	movements, err := svc.MovementsForBatch(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.EqualValues(t, -4, movements[0].Qty)
	// Sale movements inherit the batch cost when no cost is supplied.
	require.True(t, movements[0].UnitCost.Equal(decimal.NewFromInt(5)))
}

func TestApplyMovementRejectsNegativeResult(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 3})
	svc := NewService(repo, nil)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		BatchID: id, StoreID: "S1", Type: MovementSale, Qty: -5,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var detail *InsufficientStockError
	require.ErrorAs(t, err, &detail)
	require.EqualValues(t, 5, detail.Required)
	require.EqualValues(t, 3, detail.Available)

	qty, err := svc.CurrentStock(context.Background(), 1, "S1")
	require.NoError(t, err)
	require.EqualValues(t, 3, qty)
}

func TestApplyMovementRejectsStoreMismatch(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 3})
	svc := NewService(repo, nil)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		BatchID: id, StoreID: "S2", Type: MovementSale, Qty: -1,
	})
	require.ErrorIs(t, err, ErrStoreMismatch)
}

func TestApplyMovementRejectsSignViolations(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 3})
	svc := NewService(repo, nil)

	cases := []struct {
		typ MovementType
		qty int64
	}{
		{MovementReceive, -1},
		{MovementSale, 2},
		{MovementReturn, -2},
		{MovementWaste, 1},
		{MovementAdjustment, 0},
	}
	for _, tc := range cases {
		_, err := svc.ApplyMovement(context.Background(), MovementInput{
			BatchID: id, StoreID: "S1", Type: tc.typ, Qty: tc.qty,
		})
		require.ErrorIs(t, err, ErrInvalidMovement, "type %s qty %d", tc.typ, tc.qty)
	}
}

func TestFEFOOrderingNullExpiryLast(t *testing.T) {
	repo := newMemoryRepo()
	noExpiry := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 5, ReceivedAt: time.Unix(100, 0)})
	late := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 5, Expiry: expiry(2025, time.December, 1), ReceivedAt: time.Unix(200, 0)})
	early := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 5, Expiry: expiry(2025, time.November, 1), ReceivedAt: time.Unix(300, 0)})
	svc := NewService(repo, nil)

	batches, err := svc.BatchesFEFO(context.Background(), 1, "S1")
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Equal(t, early, batches[0].ID)
	require.Equal(t, late, batches[1].ID)
	require.Equal(t, noExpiry, batches[2].ID)
}

func TestFEFOTieBrokenByReceivedAt(t *testing.T) {
	repo := newMemoryRepo()
	sameDay := expiry(2025, time.November, 1)
	second := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 5, Expiry: sameDay, ReceivedAt: time.Unix(200, 0)})
	first := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 5, Expiry: sameDay, ReceivedAt: time.Unix(100, 0)})
	svc := NewService(repo, nil)

	batches, err := svc.BatchesFEFO(context.Background(), 1, "S1")
	require.NoError(t, err)
	require.Equal(t, first, batches[0].ID)
	require.Equal(t, second, batches[1].ID)
}

func TestWriteOff(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 8})
	svc := NewService(repo, nil)

	after, err := svc.WriteOff(context.Background(), id, "S1", 3, 7)
	require.NoError(t, err)
	require.EqualValues(t, 5, after.QtyOnHand)

	movements, _ := svc.MovementsForBatch(context.Background(), id)
	require.Len(t, movements, 1)
	require.Equal(t, MovementWaste, movements[0].Type)
	require.EqualValues(t, -3, movements[0].Qty)
}

func TestMovementSumMatchesOnHand(t *testing.T) {
	repo := newMemoryRepo()
	id := repo.addBatch(Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 0})
	svc := NewService(repo, nil)
	ctx := context.Background()

	steps := []MovementInput{
		{BatchID: id, StoreID: "S1", Type: MovementReceive, Qty: 20},
		{BatchID: id, StoreID: "S1", Type: MovementSale, Qty: -6},
		{BatchID: id, StoreID: "S1", Type: MovementReturn, Qty: 2},
		{BatchID: id, StoreID: "S1", Type: MovementAdjustment, Qty: -1},
	}
	for _, step := range steps {
		_, err := svc.ApplyMovement(ctx, step)
		require.NoError(t, err)
	}

	movements, _ := svc.MovementsForBatch(ctx, id)
	var sum int64
	for _, m := range movements {
		sum += m.Qty
	}
	qty, _ := svc.CurrentStock(ctx, 1, "S1")
	require.Equal(t, qty, sum)
	require.EqualValues(t, 15, sum)
}
