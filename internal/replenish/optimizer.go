package replenish

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/catalog"
)

// Candidate pairs a supplier with its price entry for one product.
type Candidate struct {
	Supplier catalog.Supplier
	Price    catalog.SupplierPrice
}

// Optimize evaluates every candidate supplier for a SKU and marks exactly
// one as recommended. Candidates come back sorted by total cost; the
// recommended one additionally carries its savings against the worst-cost
// option.
//
// Selection: when any candidate carries LOW risk, the cheapest of those
// wins. Otherwise delivery speed beats cost: the earliest delivery among the
// least-risky candidates wins.
func Optimize(candidates []Candidate, orderQty int64, daysRemaining float64, now time.Time) []SupplierOption {
	if len(candidates) == 0 {
		return nil
	}

	options := make([]SupplierOption, 0, len(candidates))
	for _, c := range candidates {
		qty := roundUpToMOQ(orderQty, c.Supplier.MOQFor(c.Price))
		orderDate := catalog.NextOrderDate(c.Supplier, now, catalog.TimeOfDayFrom(now))
		deliveryDate := catalog.DeliveryDate(c.Supplier, orderDate)
		daysUntil := catalog.DaysBetween(catalog.DateOnly(now), deliveryDate)

		options = append(options, SupplierOption{
			SupplierID:        c.Supplier.ID,
			SupplierName:      c.Supplier.Name,
			UnitCost:          c.Price.UnitCost,
			OrderQty:          qty,
			TotalCost:         c.Price.UnitCost.Mul(decimal.NewFromInt(qty)).Round(4),
			OrderDate:         orderDate,
			DeliveryDate:      deliveryDate,
			DaysUntilDelivery: daysUntil,
			Risk:              riskFor(daysUntil, daysRemaining),
		})
	}

	best := pickBest(options)
	options[best].Recommended = true

	worst := options[0].TotalCost
	for _, o := range options[1:] {
		if o.TotalCost.GreaterThan(worst) {
			worst = o.TotalCost
		}
	}
	savings := worst.Sub(options[best].TotalCost)
	options[best].SavingsVsMax = savings
	if worst.IsPositive() {
		percent, _ := savings.Div(worst).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		options[best].SavingsPercent = percent
	}

	sort.SliceStable(options, func(i, j int) bool {
		return options[i].TotalCost.LessThan(options[j].TotalCost)
	})
	return options
}

// riskFor grades delivery timing against remaining coverage.
func riskFor(daysUntilDelivery int, daysRemaining float64) Risk {
	d := float64(daysUntilDelivery)
	switch {
	case d > daysRemaining:
		return RiskCritical
	case d > daysRemaining-1:
		return RiskHigh
	case d > daysRemaining-3:
		return RiskMedium
	default:
		return RiskLow
	}
}

func pickBest(options []SupplierOption) int {
	best := -1
	for i, o := range options {
		if o.Risk != RiskLow {
			continue
		}
		if best < 0 || cheaperThan(o, options[best]) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}

	// Nobody is safe: minimize risk, then take the earliest delivery.
	minRisk := options[0].Risk
	for _, o := range options[1:] {
		if o.Risk < minRisk {
			minRisk = o.Risk
		}
	}
	for i, o := range options {
		if o.Risk != minRisk {
			continue
		}
		if best < 0 || fasterThan(o, options[best]) {
			best = i
		}
	}
	return best
}

// cheaperThan orders by total cost, then delivery date, then supplier id.
func cheaperThan(a, b SupplierOption) bool {
	if !a.TotalCost.Equal(b.TotalCost) {
		return a.TotalCost.LessThan(b.TotalCost)
	}
	if !a.DeliveryDate.Equal(b.DeliveryDate) {
		return a.DeliveryDate.Before(b.DeliveryDate)
	}
	return a.SupplierID < b.SupplierID
}

// fasterThan orders by delivery date, then total cost, then supplier id.
func fasterThan(a, b SupplierOption) bool {
	if !a.DeliveryDate.Equal(b.DeliveryDate) {
		return a.DeliveryDate.Before(b.DeliveryDate)
	}
	if !a.TotalCost.Equal(b.TotalCost) {
		return a.TotalCost.LessThan(b.TotalCost)
	}
	return a.SupplierID < b.SupplierID
}
