package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementReceive records goods intake, positive qty.
	MovementReceive MovementType = "RECEIVE"
	// MovementSale records a sale allocation, negative qty.
	MovementSale MovementType = "SALE"
	// MovementReturn records a refund putting stock back, positive qty.
	MovementReturn MovementType = "RETURN"
	// MovementAdjustment records a manual correction, signed qty.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementTransfer records stock leaving for another store, negative qty.
	MovementTransfer MovementType = "TRANSFER"
	// MovementWaste records write-off of expired or damaged stock, negative qty.
	MovementWaste MovementType = "WASTE"
)

// Batch is a physically received lot of a product, optionally expiring.
type Batch struct {
	ID         int64
	ProductID  int64
	StoreID    string
	SupplierID int64
	BatchNo    string
	Expiry     *time.Time
	UnitCost   decimal.Decimal
	QtyOnHand  int64
	ReceivedAt time.Time
}

// StockMovement is one append-only ledger entry against a batch.
// Invariant: the sum of movement quantities per batch equals the batch
// qty-on-hand.
type StockMovement struct {
	ID        int64
	ProductID int64
	BatchID   int64
	StoreID   string
	Type      MovementType
	Qty       int64
	UnitCost  decimal.Decimal
	ActorID   int64
	RefTable  string
	RefID     string
	CreatedAt time.Time
}

// MovementInput describes a movement to apply against an existing batch.
type MovementInput struct {
	BatchID  int64
	StoreID  string
	Type     MovementType
	Qty      int64
	UnitCost decimal.Decimal
	ActorID  int64
	RefTable string
	RefID    string
}

// ValidSign reports whether qty carries the sign convention for the type.
func ValidSign(t MovementType, qty int64) bool {
	switch t {
	case MovementReceive, MovementReturn:
		return qty > 0
	case MovementSale, MovementWaste, MovementTransfer:
		return qty < 0
	case MovementAdjustment:
		return qty != 0
	default:
		return false
	}
}

var (
	// ErrBatchNotFound indicates an unknown batch id.
	ErrBatchNotFound = errors.New("ledger: batch not found")
	// ErrStoreMismatch indicates the batch belongs to a different store.
	ErrStoreMismatch = errors.New("ledger: batch store does not match movement store")
	// ErrInvalidMovement indicates qty/type sign mismatch or zero qty.
	ErrInvalidMovement = errors.New("ledger: invalid movement")
	// ErrInsufficientStock indicates a movement would drive a batch negative.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
)

// InsufficientStockError carries the shortfall details for one product.
type InsufficientStockError struct {
	ProductID int64
	Required  int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for product %d: required %d, available %d", e.ProductID, e.Required, e.Available)
}

// Unwrap lets callers match with errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
