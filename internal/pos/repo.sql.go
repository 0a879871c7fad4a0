package pos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/ledger"
	"github.com/apotek-pos/apotek/internal/platform/db"
	"github.com/apotek-pos/apotek/internal/shared"
)

// Repository persists sales in PostgreSQL. Batch and movement writes go
// through the embedded ledger.TxLedger so the ledger stays the single owner
// of that SQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	*ledger.TxLedger
	tx pgx.Tx
}

// WithTx runs the callback inside a repeatable-read transaction. Concurrent
// sales of the same batches serialize on the FEFO row locks; serialization
// failures and deadlocks are retried with backoff, so the callback must be
// safe to re-run.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("pos repository not initialised")
	}
	return db.WithRetryTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxLedger: ledger.NewTxLedger(tx), tx: tx})
	})
}

// GetSale loads a sale header and its lines.
func (r *Repository) GetSale(ctx context.Context, saleID int64) (Sale, []SaleLine, error) {
	var sale Sale
	var subtotal, tax, discount, total, paid, change string
	err := r.pool.QueryRow(ctx, `SELECT id, number, store_id, cashier_id, subtotal, tax_total, discount_total, total, paid, change, payment_method, status, created_at
FROM sales WHERE id=$1`, saleID).Scan(&sale.ID, &sale.Number, &sale.StoreID, &sale.CashierID,
		&subtotal, &tax, &discount, &total, &paid, &change, &sale.PaymentMethod, &sale.Status, &sale.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, nil, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, nil, fmt.Errorf("pos: get sale: %w", err)
	}
	sale.Subtotal = mustDecimal(subtotal)
	sale.TaxTotal = mustDecimal(tax)
	sale.DiscountTotal = mustDecimal(discount)
	sale.Total = mustDecimal(total)
	sale.Paid = mustDecimal(paid)
	sale.Change = mustDecimal(change)

	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, batch_id, qty, unit_price, tax_rate, discount, line_total
FROM sale_lines WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return Sale{}, nil, fmt.Errorf("pos: get sale lines: %w", err)
	}
	defer rows.Close()
	lines := []SaleLine{}
	for rows.Next() {
		var line SaleLine
		var price, taxRate, disc, lineTotal string
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.BatchID, &line.Qty, &price, &taxRate, &disc, &lineTotal); err != nil {
			return Sale{}, nil, err
		}
		line.UnitPrice = mustDecimal(price)
		line.TaxRate = mustDecimal(taxRate)
		line.Discount = mustDecimal(disc)
		line.LineTotal = mustDecimal(lineTotal)
		lines = append(lines, line)
	}
	return sale, lines, rows.Err()
}

func (r *txRepository) NextNumber(ctx context.Context, key, prefix string) (string, error) {
	return shared.NextNumber(ctx, r.tx, key, prefix)
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (number, store_id, cashier_id, subtotal, tax_total, discount_total, total, paid, change, payment_method, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		sale.Number, sale.StoreID, sale.CashierID, sale.Subtotal, sale.TaxTotal, sale.DiscountTotal,
		sale.Total, sale.Paid, sale.Change, sale.PaymentMethod, string(sale.Status)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pos: insert sale: %w", err)
	}
	return id, nil
}

func (r *txRepository) InsertSaleLine(ctx context.Context, line SaleLine) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sale_lines (sale_id, product_id, batch_id, qty, unit_price, tax_rate, discount, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		line.SaleID, line.ProductID, line.BatchID, line.Qty, line.UnitPrice, line.TaxRate, line.Discount, line.LineTotal)
	if err != nil {
		return fmt.Errorf("pos: insert sale line: %w", err)
	}
	return nil
}

// UpdateSaleStatus moves the sale from one status to another, reporting how
// many rows changed. Zero rows means the sale is gone or already moved on.
func (r *txRepository) UpdateSaleStatus(ctx context.Context, saleID int64, from, to SaleStatus) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE sales SET status=$3 WHERE id=$1 AND status=$2`, saleID, string(from), string(to))
	if err != nil {
		return 0, fmt.Errorf("pos: update sale status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func mustDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
