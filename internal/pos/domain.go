package pos

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatus enumerates sale lifecycle states.
type SaleStatus string

const (
	SaleCompleted SaleStatus = "COMPLETED"
	SaleRefunded  SaleStatus = "REFUNDED"
	SaleVoided    SaleStatus = "VOIDED"
)

// Sale is a completed point-of-sale transaction.
type Sale struct {
	ID            int64
	Number        string
	StoreID       string
	CashierID     int64
	Subtotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	Total         decimal.Decimal
	Paid          decimal.Decimal
	Change        decimal.Decimal
	PaymentMethod string
	Status        SaleStatus
	CreatedAt     time.Time
}

// SaleLine records one sold product. BatchID references the first batch the
// FEFO walk consumed, kept for receipt traceability.
type SaleLine struct {
	ID        int64
	SaleID    int64
	ProductID int64
	BatchID   int64
	Qty       int64
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
	Discount  decimal.Decimal
	LineTotal decimal.Decimal
}

// CreateSaleInput describes a sale to allocate and persist.
type CreateSaleInput struct {
	StoreID       string
	CashierID     int64
	PaymentMethod string
	Paid          decimal.Decimal
	Lines         []SaleLineInput
}

// SaleLineInput is one requested line. TaxRate and Discount are fractions
// of the gross line amount (0.11 means 11%).
type SaleLineInput struct {
	ProductID int64
	Qty       int64
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
	Discount  decimal.Decimal
}

// moneyScale is the fixed decimal scale for persisted money values.
const moneyScale = 4

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyScale)
}

var (
	// ErrSaleNotFound indicates an unknown sale id.
	ErrSaleNotFound = errors.New("pos: sale not found")
	// ErrEmptySale indicates a sale without lines.
	ErrEmptySale = errors.New("pos: sale requires at least one line")
	// ErrInvalidLine indicates a non-positive quantity or negative price.
	ErrInvalidLine = errors.New("pos: invalid sale line")
	// ErrAlreadyRefunded indicates a refund on a non-COMPLETED sale.
	ErrAlreadyRefunded = errors.New("pos: sale already refunded or voided")
)
