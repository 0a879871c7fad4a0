package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists batches and stock movements in PostgreSQL. It is the
// only writer of both tables; other modules reach them through TxLedger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional ledger operations used by the service.
type TxRepository interface {
	GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error)
	BatchesFEFOForUpdate(ctx context.Context, productID int64, storeID string) ([]Batch, error)
	FindBatchByNumberForUpdate(ctx context.Context, productID int64, storeID, batchNo string) (Batch, error)
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	UpdateBatchQty(ctx context.Context, batchID, qty int64) error
	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, NewTxLedger(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// CurrentStock sums qty-on-hand across batches for one product and store.
func (r *Repository) CurrentStock(ctx context.Context, productID int64, storeID string) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty_on_hand), 0)
FROM batches WHERE product_id=$1 AND store_id=$2`, productID, storeID).Scan(&qty)
	if err != nil {
		return 0, fmt.Errorf("ledger: current stock: %w", err)
	}
	return qty, nil
}

// CurrentStockBulk returns qty-on-hand for many products at once, keyed by
// product id. Products with no batches are absent.
func (r *Repository) CurrentStockBulk(ctx context.Context, productIDs []int64, storeID string) (map[int64]int64, error) {
	if len(productIDs) == 0 {
		return map[int64]int64{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT product_id, COALESCE(SUM(qty_on_hand), 0)
FROM batches WHERE product_id = ANY($1) AND store_id=$2
GROUP BY product_id`, productIDs, storeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: bulk current stock: %w", err)
	}
	defer rows.Close()
	result := make(map[int64]int64, len(productIDs))
	for rows.Next() {
		var id, qty int64
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		result[id] = qty
	}
	return result, rows.Err()
}

const batchColumns = `id, product_id, store_id, COALESCE(supplier_id, 0), batch_no, expiry_date, unit_cost, qty_on_hand, received_at`

// fefoOrder sorts earliest expiry first, null expiry last, received-at then
// id as stable tie-breaks.
const fefoOrder = `ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC`

// BatchesFEFO lists batches with stock in FEFO consumption order.
func (r *Repository) BatchesFEFO(ctx context.Context, productID int64, storeID string) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`
FROM batches WHERE product_id=$1 AND store_id=$2 AND qty_on_hand > 0 `+fefoOrder, productID, storeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: batches fefo: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

// ExpiringBatches lists batches with stock whose expiry falls within the
// horizon, soonest first.
func (r *Repository) ExpiringBatches(ctx context.Context, storeID string, within time.Duration) ([]Batch, error) {
	cutoff := time.Now().Add(within)
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`
FROM batches
WHERE store_id=$1 AND qty_on_hand > 0 AND expiry_date IS NOT NULL AND expiry_date <= $2
ORDER BY expiry_date ASC, id ASC`, storeID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("ledger: expiring batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

// MovementsForBatch lists the append-only history of one batch.
func (r *Repository) MovementsForBatch(ctx context.Context, batchID int64) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, batch_id, store_id, movement_type, qty, unit_cost, actor_id, ref_table, ref_id, created_at
FROM stock_movements WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("ledger: movements for batch: %w", err)
	}
	defer rows.Close()
	movements := []StockMovement{}
	for rows.Next() {
		var m StockMovement
		var cost string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &m.StoreID, &m.Type, &m.Qty, &cost, &m.ActorID, &m.RefTable, &m.RefID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.UnitCost, _ = decimal.NewFromString(cost)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// TxLedger performs batch and movement writes on an existing transaction.
// Composite flows (sale allocation, GRN posting) construct one from their own
// pgx.Tx so the whole operation commits atomically.
type TxLedger struct {
	tx pgx.Tx
}

// NewTxLedger wraps a transaction.
func NewTxLedger(tx pgx.Tx) *TxLedger {
	return &TxLedger{tx: tx}
}

// GetBatchForUpdate locks and returns one batch row.
func (l *TxLedger) GetBatchForUpdate(ctx context.Context, batchID int64) (Batch, error) {
	row := l.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1 FOR UPDATE`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

// BatchesFEFOForUpdate locks and returns all batches with stock in FEFO order.
func (l *TxLedger) BatchesFEFOForUpdate(ctx context.Context, productID int64, storeID string) ([]Batch, error) {
	rows, err := l.tx.Query(ctx, `SELECT `+batchColumns+`
FROM batches WHERE product_id=$1 AND store_id=$2 AND qty_on_hand > 0 `+fefoOrder+` FOR UPDATE`, productID, storeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: batches fefo for update: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

// FindBatchByNumberForUpdate locates a batch by its (product, batch-number)
// key within a store, locking it when found.
func (l *TxLedger) FindBatchByNumberForUpdate(ctx context.Context, productID int64, storeID, batchNo string) (Batch, error) {
	row := l.tx.QueryRow(ctx, `SELECT `+batchColumns+`
FROM batches WHERE product_id=$1 AND store_id=$2 AND batch_no=$3 FOR UPDATE`, productID, storeID, batchNo)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

// InsertBatch creates a batch row and returns its id.
func (l *TxLedger) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := l.tx.QueryRow(ctx, `INSERT INTO batches (product_id, store_id, supplier_id, batch_no, expiry_date, unit_cost, qty_on_hand, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		b.ProductID, b.StoreID, nullInt(b.SupplierID), b.BatchNo, b.Expiry, b.UnitCost, b.QtyOnHand, b.ReceivedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert batch: %w", err)
	}
	return id, nil
}

// UpdateBatchQty sets the absolute qty-on-hand of a batch.
func (l *TxLedger) UpdateBatchQty(ctx context.Context, batchID, qty int64) error {
	tag, err := l.tx.Exec(ctx, `UPDATE batches SET qty_on_hand=$2 WHERE id=$1`, batchID, qty)
	if err != nil {
		return fmt.Errorf("ledger: update batch qty: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// InsertMovement appends one movement row.
func (l *TxLedger) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var id int64
	err := l.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, batch_id, store_id, movement_type, qty, unit_cost, actor_id, ref_table, ref_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		m.ProductID, m.BatchID, m.StoreID, string(m.Type), m.Qty, m.UnitCost, m.ActorID, m.RefTable, m.RefID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert movement: %w", err)
	}
	return id, nil
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var cost string
	if err := row.Scan(&b.ID, &b.ProductID, &b.StoreID, &b.SupplierID, &b.BatchNo, &b.Expiry, &cost, &b.QtyOnHand, &b.ReceivedAt); err != nil {
		return Batch{}, err
	}
	var err error
	b.UnitCost, err = decimal.NewFromString(cost)
	if err != nil {
		return Batch{}, fmt.Errorf("ledger: bad unit cost %q: %w", cost, err)
	}
	return b, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
