package receiving

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/ledger"
	"github.com/apotek-pos/apotek/internal/shared"
)

// Repository persists goods receipts in PostgreSQL. Batch and movement writes
// go through the embedded ledger.TxLedger.
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

// WithTx runs the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("receiving repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{TxLedger: ledger.NewTxLedger(tx), tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const receiptColumns = `id, number, store_id, supplier_id, COALESCE(po_id, 0), invoice_no, total_cost, vat_rate, vat_amount, received_by, created_at`

// GetReceipt loads a receipt header and its lines.
func (r *Repository) GetReceipt(ctx context.Context, receiptID int64) (GoodsReceipt, []ReceiptLine, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id=$1`, receiptID)
	grn, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, nil, ErrReceiptNotFound
	}
	if err != nil {
		return GoodsReceipt{}, nil, fmt.Errorf("receiving: get receipt: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, receipt_id, product_id, batch_id, batch_no, expiry_date, qty, unit_cost
FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id`, receiptID)
	if err != nil {
		return GoodsReceipt{}, nil, fmt.Errorf("receiving: get receipt lines: %w", err)
	}
	defer rows.Close()
	lines := []ReceiptLine{}
	for rows.Next() {
		var line ReceiptLine
		var cost string
		if err := rows.Scan(&line.ID, &line.ReceiptID, &line.ProductID, &line.BatchID, &line.BatchNo, &line.Expiry, &line.Qty, &cost); err != nil {
			return GoodsReceipt{}, nil, err
		}
		line.UnitCost, _ = decimal.NewFromString(cost)
		lines = append(lines, line)
	}
	return grn, lines, rows.Err()
}

// ListReceipts returns the most recent receipts of one store.
func (r *Repository) ListReceipts(ctx context.Context, storeID string, limit int) ([]GoodsReceipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+`
FROM goods_receipts WHERE store_id=$1 ORDER BY id DESC LIMIT $2`, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("receiving: list receipts: %w", err)
	}
	defer rows.Close()
	receipts := []GoodsReceipt{}
	for rows.Next() {
		grn, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, grn)
	}
	return receipts, rows.Err()
}

func (r *txRepository) NextNumber(ctx context.Context, key, prefix string) (string, error) {
	return shared.NextNumber(ctx, r.tx, key, prefix)
}

func (r *txRepository) InsertReceipt(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, store_id, supplier_id, po_id, invoice_no, total_cost, vat_rate, vat_amount, received_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		grn.Number, grn.StoreID, grn.SupplierID, nullInt(grn.POID), grn.InvoiceNo,
		grn.TotalCost, grn.VATRate, grn.VATAmount, grn.ReceivedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("receiving: insert receipt: %w", err)
	}
	return id, nil
}

func (r *txRepository) InsertReceiptLine(ctx context.Context, line ReceiptLine) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO goods_receipt_lines (receipt_id, product_id, batch_id, batch_no, expiry_date, qty, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		line.ReceiptID, line.ProductID, line.BatchID, line.BatchNo, line.Expiry, line.Qty, line.UnitCost)
	if err != nil {
		return fmt.Errorf("receiving: insert receipt line: %w", err)
	}
	return nil
}

func scanReceipt(row pgx.Row) (GoodsReceipt, error) {
	var grn GoodsReceipt
	var total, rate, vat string
	if err := row.Scan(&grn.ID, &grn.Number, &grn.StoreID, &grn.SupplierID, &grn.POID,
		&grn.InvoiceNo, &total, &rate, &vat, &grn.ReceivedBy, &grn.CreatedAt); err != nil {
		return GoodsReceipt{}, err
	}
	grn.TotalCost, _ = decimal.NewFromString(total)
	grn.VATRate, _ = decimal.NewFromString(rate)
	grn.VATAmount, _ = decimal.NewFromString(vat)
	return grn, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
