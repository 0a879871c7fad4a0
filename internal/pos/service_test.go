package pos

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek/internal/ledger"
)

type memoryRepo struct {
	batches   map[int64]*ledger.Batch
	movements []ledger.StockMovement
	sales     map[int64]*Sale
	lines     map[int64][]SaleLine
	nextID    int64
	seq       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches: make(map[int64]*ledger.Batch),
		sales:   make(map[int64]*Sale),
		lines:   make(map[int64][]SaleLine),
	}
}

func (r *memoryRepo) addBatch(b ledger.Batch) int64 {
	r.nextID++
	b.ID = r.nextID
	r.batches[b.ID] = &b
	return b.ID
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Snapshot so a failed callback rolls everything back, like the real
	// repository does.
	snapBatches := make(map[int64]*ledger.Batch, len(r.batches))
	for id, b := range r.batches {
		copied := *b
		snapBatches[id] = &copied
	}
	snapMovements := append([]ledger.StockMovement(nil), r.movements...)
	snapSales := make(map[int64]*Sale, len(r.sales))
	for id, s := range r.sales {
		copied := *s
		snapSales[id] = &copied
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.batches = snapBatches
		r.movements = snapMovements
		r.sales = snapSales
		return err
	}
	return nil
}

func (r *memoryRepo) GetSale(ctx context.Context, saleID int64) (Sale, []SaleLine, error) {
	sale, ok := r.sales[saleID]
	if !ok {
		return Sale{}, nil, ErrSaleNotFound
	}
	return *sale, r.lines[saleID], nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, batchID int64) (ledger.Batch, error) {
	b, ok := tx.repo.batches[batchID]
	if !ok {
		return ledger.Batch{}, ledger.ErrBatchNotFound
	}
	return *b, nil
}

func (tx *memoryTx) BatchesFEFOForUpdate(ctx context.Context, productID int64, storeID string) ([]ledger.Batch, error) {
	batches := []ledger.Batch{}
	for _, b := range tx.repo.batches {
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
	return batches, nil
}

func (tx *memoryTx) FindBatchByNumberForUpdate(ctx context.Context, productID int64, storeID, batchNo string) (ledger.Batch, error) {
	for _, b := range tx.repo.batches {
		if b.ProductID == productID && b.StoreID == storeID && b.BatchNo == batchNo {
			return *b, nil
		}
	}
	return ledger.Batch{}, ledger.ErrBatchNotFound
}

func (tx *memoryTx) InsertBatch(ctx context.Context, b ledger.Batch) (int64, error) {
	return tx.repo.addBatch(b), nil
}

func (tx *memoryTx) UpdateBatchQty(ctx context.Context, batchID, qty int64) error {
	b, ok := tx.repo.batches[batchID]
	if !ok {
		return ledger.ErrBatchNotFound
	}
	b.QtyOnHand = qty
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m ledger.StockMovement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, key, prefix string) (string, error) {
	tx.repo.seq++
	return fmt.Sprintf("%s-%06d", prefix, tx.repo.seq), nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	tx.repo.nextID++
	sale.ID = tx.repo.nextID
	sale.CreatedAt = time.Now()
	tx.repo.sales[sale.ID] = &sale
	return sale.ID, nil
}

func (tx *memoryTx) InsertSaleLine(ctx context.Context, line SaleLine) error {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.SaleID] = append(tx.repo.lines[line.SaleID], line)
	return nil
}

func (tx *memoryTx) UpdateSaleStatus(ctx context.Context, saleID int64, from, to SaleStatus) (int64, error) {
	sale, ok := tx.repo.sales[saleID]
	if !ok || sale.Status != from {
		return 0, nil
	}
	sale.Status = to
	return 1, nil
}

func expiry(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCreateSaleConsumesFEFOAcrossBatches(t *testing.T) {
	repo := newMemoryRepo()
	first := repo.addBatch(ledger.Batch{ProductID: 1, StoreID: "S1", BatchNo: "B1", QtyOnHand: 5, Expiry: expiry(2025, time.November, 1), UnitCost: dec("2.0")})
	second := repo.addBatch(ledger.Batch{ProductID: 1, StoreID: "S1", BatchNo: "B2", QtyOnHand: 10, Expiry: expiry(2025, time.December, 1), UnitCost: dec("2.5")})
	svc := NewService(repo, nil)

	sale, lines, err := svc.CreateSale(context.Background(), CreateSaleInput{
		StoreID:       "S1",
		CashierID:     9,
		PaymentMethod: "CASH",
		Paid:          dec("100"),
		Lines: []SaleLineInput{
			{ProductID: 1, Qty: 8, UnitPrice: dec("10")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, SaleCompleted, sale.Status)

	require.EqualValues(t, 0, repo.batches[first].QtyOnHand)
	require.EqualValues(t, 7, repo.batches[second].QtyOnHand)

	require.Len(t, repo.movements, 2)
	require.EqualValues(t, -5, repo.movements[0].Qty)
	require.Equal(t, first, repo.movements[0].BatchID)
	require.EqualValues(t, -3, repo.movements[1].Qty)
	require.Equal(t, second, repo.movements[1].BatchID)

	require.Len(t, lines, 1)
	require.Equal(t, first, lines[0].BatchID)
}

func TestCreateSaleInsufficientStockAbortsEverything(t *testing.T) {
	repo := newMemoryRepo()
	batch := repo.addBatch(ledger.Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 5, UnitCost: dec("2")})
	repo.addBatch(ledger.Batch{ProductID: 2, StoreID: "S1", QtyOnHand: 100, UnitCost: dec("1")})
	svc := NewService(repo, nil)

	_, _, err := svc.CreateSale(context.Background(), CreateSaleInput{
		StoreID: "S1",
		Paid:    dec("1000"),
		Lines: []SaleLineInput{
			{ProductID: 2, Qty: 10, UnitPrice: dec("3")},
			{ProductID: 1, Qty: 6, UnitPrice: dec("10")},
		},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	// First line's consumption must have been rolled back too.
	require.EqualValues(t, 5, repo.batches[batch].QtyOnHand)
	var product2 int64
	for _, b := range repo.batches {
		if b.ProductID == 2 {
			product2 = b.QtyOnHand
		}
	}
	require.EqualValues(t, 100, product2)
	require.Empty(t, repo.movements)
	require.Empty(t, repo.sales)
}

func TestCreateSaleTotals(t *testing.T) {
	repo := newMemoryRepo()
	repo.addBatch(ledger.Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 50, UnitCost: dec("2")})
	svc := NewService(repo, nil)

	sale, lines, err := svc.CreateSale(context.Background(), CreateSaleInput{
		StoreID: "S1",
		Paid:    dec("50"),
		Lines: []SaleLineInput{
			// gross 40, tax 11% = 4.4, discount 5% = 2
			{ProductID: 1, Qty: 4, UnitPrice: dec("10"), TaxRate: dec("0.11"), Discount: dec("0.05")},
		},
	})
	require.NoError(t, err)
	require.True(t, sale.Subtotal.Equal(dec("40")), sale.Subtotal.String())
	require.True(t, sale.TaxTotal.Equal(dec("4.4")), sale.TaxTotal.String())
	require.True(t, sale.DiscountTotal.Equal(dec("2")), sale.DiscountTotal.String())
	require.True(t, sale.Total.Equal(dec("42.4")), sale.Total.String())
	require.True(t, sale.Change.Equal(dec("7.6")), sale.Change.String())
	require.True(t, lines[0].LineTotal.Equal(dec("42.4")))
}

func TestRefundRestoresBatchAndIsNotRepeatable(t *testing.T) {
	repo := newMemoryRepo()
	batch := repo.addBatch(ledger.Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 20, UnitCost: dec("2")})
	svc := NewService(repo, nil)
	ctx := context.Background()

	sale, _, err := svc.CreateSale(ctx, CreateSaleInput{
		StoreID: "S1",
		Paid:    dec("100"),
		Lines:   []SaleLineInput{{ProductID: 1, Qty: 7, UnitPrice: dec("10")}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 13, repo.batches[batch].QtyOnHand)

	refunded, err := svc.Refund(ctx, sale.ID, 3)
	require.NoError(t, err)
	require.Equal(t, SaleRefunded, refunded.Status)
	require.EqualValues(t, 20, repo.batches[batch].QtyOnHand)

	// RETURN movement appended with positive qty.
	last := repo.movements[len(repo.movements)-1]
	require.Equal(t, ledger.MovementReturn, last.Type)
	require.EqualValues(t, 7, last.Qty)

	_, err = svc.Refund(ctx, sale.ID, 3)
	require.ErrorIs(t, err, ErrAlreadyRefunded)
	require.EqualValues(t, 20, repo.batches[batch].QtyOnHand)
}

// racingRefundRepo flips the sale to REFUNDED right before the callback
// runs, as a concurrent refund committing first would.
type racingRefundRepo struct {
	*memoryRepo
	saleID int64
}

func (r *racingRefundRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if sale, ok := r.sales[r.saleID]; ok && sale.Status == SaleCompleted {
		sale.Status = SaleRefunded
	}
	return r.memoryRepo.WithTx(ctx, fn)
}

func TestRefundLosingRaceCreditsNothing(t *testing.T) {
	repo := newMemoryRepo()
	batch := repo.addBatch(ledger.Batch{ProductID: 1, StoreID: "S1", QtyOnHand: 20, UnitCost: dec("2")})
	svc := NewService(repo, nil)
	ctx := context.Background()

	sale, _, err := svc.CreateSale(ctx, CreateSaleInput{
		StoreID: "S1",
		Paid:    dec("100"),
		Lines:   []SaleLineInput{{ProductID: 1, Qty: 7, UnitPrice: dec("10")}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 13, repo.batches[batch].QtyOnHand)

	loser := NewService(&racingRefundRepo{memoryRepo: repo, saleID: sale.ID}, nil)
	_, err = loser.Refund(ctx, sale.ID, 3)
	require.ErrorIs(t, err, ErrAlreadyRefunded)

	// No second credit, no RETURN movement from the loser.
	require.EqualValues(t, 13, repo.batches[batch].QtyOnHand)
	last := repo.movements[len(repo.movements)-1]
	require.Equal(t, ledger.MovementSale, last.Type)
}

func TestCreateSaleValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, _, err := svc.CreateSale(ctx, CreateSaleInput{StoreID: "S1"})
	require.ErrorIs(t, err, ErrEmptySale)

	_, _, err = svc.CreateSale(ctx, CreateSaleInput{
		StoreID: "S1",
		Lines:   []SaleLineInput{{ProductID: 1, Qty: 0, UnitPrice: dec("1")}},
	})
	require.ErrorIs(t, err, ErrInvalidLine)
}
