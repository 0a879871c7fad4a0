package replenish

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxCoverageDays caps every day-count output. Anything that would reach
// beyond it is reported as unbounded rather than as a far-future date.
const MaxCoverageDays = 365

// DefaultScenarioPeriods are the coverage horizons offered when the request
// does not name its own.
var DefaultScenarioPeriods = []int{1, 7, 30}

// Coverage describes how long current stock lasts.
type Coverage struct {
	DaysRemaining float64
	Urgency       Urgency
	Action        Action
	StockoutDate  *time.Time
}

// CurrentCoverage computes days of stock left at the forecast consumption
// rate. Zero demand means the stock effectively never runs out, reported as
// the cap with no stockout date.
func CurrentCoverage(currentStock int64, meanDailyDemand float64, now time.Time) Coverage {
	days := float64(MaxCoverageDays)
	if meanDailyDemand > 0 {
		days = math.Min(float64(currentStock)/meanDailyDemand, MaxCoverageDays)
	}
	urgency, action := UrgencyFor(days)
	cov := Coverage{DaysRemaining: days, Urgency: urgency, Action: action}
	if days < MaxCoverageDays {
		stockout := now.AddDate(0, 0, int(math.Floor(days)))
		cov.StockoutDate = &stockout
	}
	return cov
}

// UrgencyFor buckets days-remaining.
func UrgencyFor(daysRemaining float64) (Urgency, Action) {
	switch {
	case daysRemaining < 1:
		return UrgencyCritical, ActionOrderToday
	case daysRemaining < 3:
		return UrgencyUrgent, ActionOrderToday
	case daysRemaining < 7:
		return UrgencyLow, ActionOrderSoon
	case daysRemaining <= 30:
		return UrgencyGood, ActionMonitor
	default:
		return UrgencyOverstocked, ActionReduceOrders
	}
}

// OrderQuantity computes the units needed to cover the horizon plus safety
// stock, net of current stock, rounded up to the supplier MOQ.
func OrderQuantity(currentStock int64, meanDailyDemand float64, horizonDays int, safetyStock, moq int64) int64 {
	target := int64(math.Ceil(meanDailyDemand*float64(horizonDays))) + safetyStock
	qty := target - currentStock
	if qty <= 0 {
		return 0
	}
	return roundUpToMOQ(qty, moq)
}

func roundUpToMOQ(qty, moq int64) int64 {
	if moq <= 1 {
		return qty
	}
	if rem := qty % moq; rem != 0 {
		qty += moq - rem
	}
	return qty
}

// Scenarios evaluates one coverage option per period at the given unit
// price.
func Scenarios(currentStock int64, meanDailyDemand float64, safetyStock int64, unitPrice decimal.Decimal, moq int64, periods []int) []Scenario {
	if len(periods) == 0 {
		periods = DefaultScenarioPeriods
	}
	scenarios := make([]Scenario, 0, len(periods))
	for _, days := range periods {
		qty := OrderQuantity(currentStock, meanDailyDemand, days, safetyStock, moq)
		finalStock := currentStock + qty

		actual := float64(MaxCoverageDays)
		if meanDailyDemand > 0 {
			actual = math.Min(float64(finalStock)/meanDailyDemand, MaxCoverageDays)
		}

		totalCost := unitPrice.Mul(decimal.NewFromInt(qty)).Round(4)
		costPerDay := decimal.Zero
		if actual > 0 {
			costPerDay = totalCost.Div(decimal.NewFromFloat(actual)).Round(4)
		}
		scenarios = append(scenarios, Scenario{
			Label:              scenarioLabel(days),
			CoverageDays:       days,
			OrderQty:           qty,
			FinalStock:         finalStock,
			ActualCoverageDays: actual,
			TotalCost:          totalCost,
			CostPerDay:         costPerDay,
		})
	}
	return scenarios
}

func scenarioLabel(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
