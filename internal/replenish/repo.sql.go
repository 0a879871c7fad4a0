package replenish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/shared"
)

// Repository persists suggestions and purchase orders in PostgreSQL.
// Scenarios, supplier options, and the reason block live in JSONB columns;
// the filterable fields are regular columns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("replenish repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const suggestionColumns = `id, product_id, sku, store_id, COALESCE(supplier_id, 0), supplier_name, unit_cost, rop, order_qty,
current_stock, days_remaining, urgency, status, analysis_period_days, next_delivery_date,
scenarios, supplier_options, reason, note, created_at, updated_at`

// ReplaceForStore swaps the store's PENDING suggestions for a fresh batch in
// one transaction, so readers never observe a half-written run.
func (r *Repository) ReplaceForStore(ctx context.Context, storeID string, suggestions []Suggestion) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM suggestions WHERE store_id=$1 AND status='PENDING'`, storeID); err != nil {
		return fmt.Errorf("replenish: clear pending: %w", err)
	}
	for _, sug := range suggestions {
		scenarios, err := json.Marshal(sug.Scenarios)
		if err != nil {
			return err
		}
		options, err := json.Marshal(sug.SupplierOptions)
		if err != nil {
			return err
		}
		reason, err := json.Marshal(sug.Reason)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO suggestions
(product_id, sku, store_id, supplier_id, supplier_name, unit_cost, rop, order_qty, current_stock,
 days_remaining, urgency, status, analysis_period_days, next_delivery_date, scenarios, supplier_options, reason, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW(),NOW())`,
			sug.ProductID, sug.SKU, sug.StoreID, nullInt(sug.SupplierID), sug.SupplierName, sug.UnitCost,
			sug.ROP, sug.OrderQty, sug.CurrentStock, sug.DaysRemaining, string(sug.Urgency), string(StatusPending),
			sug.AnalysisPeriodDays, sug.NextDeliveryDate, scenarios, options, reason, sug.Note)
		if err != nil {
			return fmt.Errorf("replenish: insert suggestion: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// List returns suggestions matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE 1=1`
	args := []any{}
	if filter.StoreID != "" {
		args = append(args, filter.StoreID)
		query += fmt.Sprintf(` AND store_id=$%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(` AND product_id=$%d`, len(args))
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("replenish: list suggestions: %w", err)
	}
	defer rows.Close()
	suggestions := []Suggestion{}
	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sug)
	}
	return suggestions, rows.Err()
}

// Get loads one suggestion by id.
func (r *Repository) Get(ctx context.Context, id int64) (Suggestion, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id=$1`, id)
	sug, err := scanSuggestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Suggestion{}, ErrSuggestionNotFound
	}
	return sug, err
}

// UpdatePending edits a PENDING suggestion's editable fields and reports how
// many rows changed (0 when missing or not PENDING).
func (r *Repository) UpdatePending(ctx context.Context, id int64, input UpdatePendingInput) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE suggestions SET
order_qty = COALESCE($2, order_qty),
rop = COALESCE($3, rop),
note = COALESCE($4, note),
updated_at = NOW()
WHERE id=$1 AND status='PENDING'`, id, input.OrderQty, input.ROP, input.Note)
	if err != nil {
		return 0, fmt.Errorf("replenish: update pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Reject marks PENDING suggestions REJECTED.
func (r *Repository) Reject(ctx context.Context, ids []int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE suggestions SET status='REJECTED', updated_at=NOW()
WHERE id = ANY($1) AND status='PENDING'`, ids)
	if err != nil {
		return 0, fmt.Errorf("replenish: reject: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearStore deletes the store's PENDING suggestions.
func (r *Repository) ClearStore(ctx context.Context, storeID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM suggestions WHERE store_id=$1 AND status='PENDING'`, storeID)
	if err != nil {
		return 0, fmt.Errorf("replenish: clear store: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepository) SuggestionsForUpdate(ctx context.Context, ids []int64) ([]Suggestion, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+suggestionColumns+`
FROM suggestions WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("replenish: select for update: %w", err)
	}
	defer rows.Close()
	suggestions := []Suggestion{}
	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sug)
	}
	return suggestions, rows.Err()
}

func (t *txRepository) UpdateStatusIfPending(ctx context.Context, ids []int64, to Status) (int64, error) {
	return t.updateStatus(ctx, ids, StatusPending, to)
}

func (t *txRepository) UpdateStatus(ctx context.Context, ids []int64, from, to Status) (int64, error) {
	return t.updateStatus(ctx, ids, from, to)
}

func (t *txRepository) updateStatus(ctx context.Context, ids []int64, from, to Status) (int64, error) {
	if err := Transition(from, to); err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE suggestions SET status=$3, updated_at=NOW()
WHERE id = ANY($1) AND status=$2`, ids, string(from), string(to))
	if err != nil {
		return 0, fmt.Errorf("replenish: update status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepository) NextNumber(ctx context.Context, key, prefix string) (string, error) {
	return shared.NextNumber(ctx, t.tx, key, prefix)
}

func (t *txRepository) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, store_id, supplier_id, status, expected_at, subtotal, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		po.Number, po.StoreID, po.SupplierID, string(po.Status), po.ExpectedAt, po.Subtotal, po.CreatedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("replenish: insert po: %w", err)
	}
	return id, nil
}

func (t *txRepository) InsertPOLine(ctx context.Context, line POLine) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO po_lines (po_id, product_id, qty, unit_cost, line_total)
VALUES ($1,$2,$3,$4,$5)`,
		line.POID, line.ProductID, line.Qty, line.UnitCost, line.LineTotal)
	if err != nil {
		return fmt.Errorf("replenish: insert po line: %w", err)
	}
	return nil
}

func scanSuggestion(row pgx.Row) (Suggestion, error) {
	var sug Suggestion
	var cost string
	var scenarios, options, reason []byte
	err := row.Scan(&sug.ID, &sug.ProductID, &sug.SKU, &sug.StoreID, &sug.SupplierID, &sug.SupplierName,
		&cost, &sug.ROP, &sug.OrderQty, &sug.CurrentStock, &sug.DaysRemaining, &sug.Urgency, &sug.Status,
		&sug.AnalysisPeriodDays, &sug.NextDeliveryDate, &scenarios, &options, &reason, &sug.Note,
		&sug.CreatedAt, &sug.UpdatedAt)
	if err != nil {
		return Suggestion{}, err
	}
	sug.UnitCost, _ = decimal.NewFromString(cost)
	if len(scenarios) > 0 {
		if err := json.Unmarshal(scenarios, &sug.Scenarios); err != nil {
			return Suggestion{}, fmt.Errorf("replenish: bad scenarios payload: %w", err)
		}
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &sug.SupplierOptions); err != nil {
			return Suggestion{}, fmt.Errorf("replenish: bad supplier options payload: %w", err)
		}
	}
	if len(reason) > 0 {
		if err := json.Unmarshal(reason, &sug.Reason); err != nil {
			return Suggestion{}, fmt.Errorf("replenish: bad reason payload: %w", err)
		}
	}
	return sug, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
