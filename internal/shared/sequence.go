package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Sequence keys for document numbering.
const (
	SeqPurchaseOrder = "po"
	SeqGoodsReceipt  = "grn"
	SeqSale          = "sale"
)

// NextNumber increments a named counter row and formats the document number.
// The upsert takes a row lock on the counter, so numbers allocated inside the
// same transaction as the document insert are strictly monotonic.
func NextNumber(ctx context.Context, tx pgx.Tx, key, prefix string) (string, error) {
	if key == "" {
		return "", errors.New("shared: sequence key required")
	}
	var value int64
	err := tx.QueryRow(ctx, `INSERT INTO sequences (key, value) VALUES ($1, 1)
ON CONFLICT (key) DO UPDATE SET value = sequences.value + 1
RETURNING value`, key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("shared: next number for %s: %w", key, err)
	}
	return fmt.Sprintf("%s-%06d", prefix, value), nil
}
