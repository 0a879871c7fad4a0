package replenish

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Pattern is the categorical demand shape of a SKU.
type Pattern string

const (
	PatternSteady    Pattern = "STEADY"
	PatternGrowing   Pattern = "GROWING"
	PatternDeclining Pattern = "DECLINING"
	PatternSeasonal  Pattern = "SEASONAL"
	PatternErratic   Pattern = "ERRATIC"
)

// TrendDirection labels the OLS trend of a demand series.
type TrendDirection string

const (
	TrendSteady    TrendDirection = "STEADY"
	TrendGrowing   TrendDirection = "GROWING"
	TrendDeclining TrendDirection = "DECLINING"
)

// Trend holds the fitted linear trend of a demand series. Slope is units
// per day.
type Trend struct {
	Direction TrendDirection `json:"direction"`
	Slope     float64        `json:"slope"`
	R2        float64        `json:"r2"`
}

// Urgency buckets days-remaining into an action category.
type Urgency string

const (
	UrgencyCritical    Urgency = "CRITICAL"
	UrgencyUrgent      Urgency = "URGENT"
	UrgencyLow         Urgency = "LOW"
	UrgencyGood        Urgency = "GOOD"
	UrgencyOverstocked Urgency = "OVERSTOCKED"
)

// Action is what the pharmacist should do about a SKU.
type Action string

const (
	ActionOrderToday   Action = "ORDER_TODAY"
	ActionOrderSoon    Action = "ORDER_SOON"
	ActionMonitor      Action = "MONITOR"
	ActionReduceOrders Action = "REDUCE_ORDERS"
)

// Risk grades the chance of a stockout before a supplier's delivery lands.
// Ordered so higher values mean higher risk.
type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String renders the risk label.
func (r Risk) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("RISK(%d)", int(r))
	}
}

// MarshalJSON emits the label instead of the ordinal.
func (r Risk) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON parses the label form.
func (r *Risk) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"LOW"`:
		*r = RiskLow
	case `"MEDIUM"`:
		*r = RiskMedium
	case `"HIGH"`:
		*r = RiskHigh
	case `"CRITICAL"`:
		*r = RiskCritical
	default:
		return fmt.Errorf("replenish: unknown risk %s", data)
	}
	return nil
}

// Status is the suggestion lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusOrdered  Status = "ORDERED"
	StatusRejected Status = "REJECTED"
)

// legalTransitions is the full suggestion status graph. ORDERED and REJECTED
// are terminal.
var legalTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusOrdered, StatusRejected},
	StatusApproved: {StatusOrdered},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a status change.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Scenario is one coverage option offered to the pharmacist.
type Scenario struct {
	Label              string          `json:"label"`
	CoverageDays       int             `json:"coverage_days"`
	OrderQty           int64           `json:"order_qty"`
	FinalStock         int64           `json:"final_stock"`
	ActualCoverageDays float64         `json:"actual_coverage_days"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	CostPerDay         decimal.Decimal `json:"cost_per_day"`
}

// SupplierOption is one evaluated supplier candidate for a SKU.
type SupplierOption struct {
	SupplierID        int64           `json:"supplier_id"`
	SupplierName      string          `json:"supplier_name"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	OrderQty          int64           `json:"order_qty"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	OrderDate         time.Time       `json:"order_date"`
	DeliveryDate      time.Time       `json:"delivery_date"`
	DaysUntilDelivery int             `json:"days_until_delivery"`
	Risk              Risk            `json:"risk"`
	Recommended       bool            `json:"recommended"`
	SavingsVsMax      decimal.Decimal `json:"savings_vs_max"`
	SavingsPercent    float64         `json:"savings_percent"`
}

// Reason explains a suggestion to the pharmacist.
type Reason struct {
	Pattern           Pattern  `json:"pattern"`
	PatternConfidence float64  `json:"pattern_confidence"`
	Trend             Trend    `json:"trend"`
	ForecastedDemand  float64  `json:"forecasted_demand"`
	Urgency           Urgency  `json:"urgency"`
	Action            Action   `json:"action"`
	Message           string   `json:"message"`
	Errors            []string `json:"errors,omitempty"`
}

// Suggestion is one per-SKU reorder recommendation. SupplierID is the
// recommended supplier (0 when no candidate exists) and UnitCost its price
// captured at generation time.
type Suggestion struct {
	ID                 int64
	ProductID          int64
	SKU                string
	StoreID            string
	SupplierID         int64
	SupplierName       string
	UnitCost           decimal.Decimal
	ROP                int64
	OrderQty           int64
	CurrentStock       int64
	DaysRemaining      float64
	Urgency            Urgency
	Status             Status
	AnalysisPeriodDays int
	NextDeliveryDate   *time.Time
	Scenarios          []Scenario
	SupplierOptions    []SupplierOption
	Reason             Reason
	Note               string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// POStatus is the purchase-order lifecycle state. The converter only ever
// produces DRAFT.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusApproved  POStatus = "APPROVED"
	POStatusSent      POStatus = "SENT"
	POStatusPartial   POStatus = "PARTIAL"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// PurchaseOrder is the atomic unit of supplier commitment.
type PurchaseOrder struct {
	ID         int64
	Number     string
	StoreID    string
	SupplierID int64
	Status     POStatus
	ExpectedAt time.Time
	Subtotal   decimal.Decimal
	CreatedBy  int64
	CreatedAt  time.Time
	Lines      []POLine
}

// POLine is one ordered product on a purchase order.
type POLine struct {
	ID        int64
	POID      int64
	ProductID int64
	Qty       int64
	UnitCost  decimal.Decimal
	LineTotal decimal.Decimal
}

var (
	// ErrSuggestionNotFound indicates an unknown suggestion id.
	ErrSuggestionNotFound = errors.New("replenish: suggestion not found")
	// ErrNotPending indicates an edit on a suggestion past PENDING.
	ErrNotPending = errors.New("replenish: suggestion is not pending")
	// ErrIllegalTransition indicates a status change the lifecycle forbids.
	ErrIllegalTransition = errors.New("replenish: illegal status transition")
	// ErrNoEligibleSuggestions indicates an approval set with no PENDING rows.
	ErrNoEligibleSuggestions = errors.New("replenish: no eligible suggestions")
	// ErrBadRequest indicates a malformed generation or approval request.
	ErrBadRequest = errors.New("replenish: bad request")
	// ErrDependencyUnavailable indicates a catalog, stock, or history source
	// failed while generating; the run is safe to retry.
	ErrDependencyUnavailable = errors.New("replenish: dependency unavailable")
)

// ConcurrentModificationError reports suggestions whose status changed
// between selection and commit. The whole approval aborts.
type ConcurrentModificationError struct {
	IDs []int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("replenish: %d suggestions modified concurrently", len(e.IDs))
}
