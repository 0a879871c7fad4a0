package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus enumerates catalog product states.
type ProductStatus string

const (
	ProductActive       ProductStatus = "ACTIVE"
	ProductDiscontinued ProductStatus = "DISCONTINUED"
	ProductOutOfStock   ProductStatus = "OUT_OF_STOCK"
)

// Product is the catalog view of a sellable item.
type Product struct {
	ID        int64
	SKU       string
	Name      string
	Unit      string
	Status    ProductStatus
	CreatedAt time.Time
}

// ScheduleKind tags the delivery-schedule variant.
type ScheduleKind string

const (
	ScheduleDaily        ScheduleKind = "DAILY"
	ScheduleSpecificDays ScheduleKind = "SPECIFIC_DAYS"
	ScheduleWeekly       ScheduleKind = "WEEKLY"
	ScheduleBiWeekly     ScheduleKind = "BI_WEEKLY"
)

// TimeOfDay is minutes since local midnight. Negative means "unknown",
// which always passes cutoff checks.
type TimeOfDay int

// TimeOfDayUnknown skips same-day cutoff evaluation.
const TimeOfDayUnknown TimeOfDay = -1

// DeliverySchedule is a tagged variant describing when a supplier accepts
// orders. Days is used for SPECIFIC_DAYS, Day for WEEKLY and BI_WEEKLY,
// WeekParity (ISO week mod 2) only for BI_WEEKLY.
type DeliverySchedule struct {
	Kind       ScheduleKind   `json:"kind"`
	Days       []time.Weekday `json:"days,omitempty"`
	Day        time.Weekday   `json:"day,omitempty"`
	WeekParity int            `json:"week_parity,omitempty"`
	Cutoff     TimeOfDay      `json:"cutoff,omitempty"`
	HasCutoff  bool           `json:"has_cutoff,omitempty"`
}

// Supplier is a goods source with delivery constraints.
type Supplier struct {
	ID           int64
	Name         string
	LeadTimeDays int
	Schedule     DeliverySchedule
	MinOrderQty  int64
	Active       bool
	CreatedAt    time.Time
}

// SupplierPrice links a product to a supplier with a unit cost and an
// optional MOQ override (0 means use the supplier default).
type SupplierPrice struct {
	ProductID   int64
	SupplierID  int64
	UnitCost    decimal.Decimal
	MinOrderQty int64
}

// MOQFor resolves the effective minimum order quantity for a price entry.
func (s Supplier) MOQFor(price SupplierPrice) int64 {
	if price.MinOrderQty > 0 {
		return price.MinOrderQty
	}
	if s.MinOrderQty > 0 {
		return s.MinOrderQty
	}
	return 1
}

var (
	// ErrProductNotFound indicates an unknown product id or SKU.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrSupplierNotFound indicates an unknown supplier id.
	ErrSupplierNotFound = errors.New("catalog: supplier not found")
	// ErrBadSchedule indicates a schedule row that cannot be decoded.
	ErrBadSchedule = errors.New("catalog: malformed delivery schedule")
)
