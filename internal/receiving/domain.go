package receiving

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// GoodsReceipt is a posted GRN. TotalCost excludes VAT; VATAmount is
// TotalCost multiplied by VATRate.
type GoodsReceipt struct {
	ID         int64
	Number     string
	StoreID    string
	SupplierID int64
	POID       int64
	InvoiceNo  string
	TotalCost  decimal.Decimal
	VATRate    decimal.Decimal
	VATAmount  decimal.Decimal
	ReceivedBy int64
	CreatedAt  time.Time
}

// ReceiptLine is one received product. BatchID points at the batch the line
// was merged into or created.
type ReceiptLine struct {
	ID        int64
	ReceiptID int64
	ProductID int64
	BatchID   int64
	BatchNo   string
	Expiry    *time.Time
	Qty       int64
	UnitCost  decimal.Decimal
}

// ReceiveInput describes a delivery to post.
type ReceiveInput struct {
	IdempotencyKey string
	StoreID        string
	SupplierID     int64
	POID           int64
	InvoiceNo      string
	VATRate        decimal.Decimal
	ActorID        int64
	Lines          []ReceiveLineInput
}

// ReceiveLineInput is one delivered product.
type ReceiveLineInput struct {
	ProductID int64
	BatchNo   string
	Expiry    *time.Time
	Qty       int64
	UnitCost  decimal.Decimal
}

var (
	// ErrReceiptNotFound indicates an unknown GRN id.
	ErrReceiptNotFound = errors.New("receiving: goods receipt not found")
	// ErrEmptyReceipt indicates a GRN without lines.
	ErrEmptyReceipt = errors.New("receiving: receipt requires at least one line")
	// ErrInvalidReceiptLine indicates a line with missing product, non-positive
	// quantity, or negative cost.
	ErrInvalidReceiptLine = errors.New("receiving: invalid receipt line")
)
