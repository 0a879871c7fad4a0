package replenish

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek/internal/catalog"
)

// Monday morning.
var optimizeNow = time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

func supplierDaily(id int64, lead int) catalog.Supplier {
	return catalog.Supplier{
		ID:           id,
		Name:         "S" + string(rune('0'+id)),
		LeadTimeDays: lead,
		Schedule:     catalog.DeliverySchedule{Kind: catalog.ScheduleDaily},
		Active:       true,
	}
}

func supplierMonFri(id int64, lead int) catalog.Supplier {
	return catalog.Supplier{
		ID:           id,
		Name:         "S" + string(rune('0'+id)),
		LeadTimeDays: lead,
		Schedule: catalog.DeliverySchedule{
			Kind: catalog.ScheduleSpecificDays,
			Days: []time.Weekday{time.Monday, time.Friday},
		},
		Active: true,
	}
}

func price(productID, supplierID int64, cost string) catalog.SupplierPrice {
	return catalog.SupplierPrice{
		ProductID:  productID,
		SupplierID: supplierID,
		UnitCost:   decimal.RequireFromString(cost),
	}
}

func recommendedOf(t *testing.T, options []SupplierOption) SupplierOption {
	t.Helper()
	count := 0
	var rec SupplierOption
	for _, o := range options {
		if o.Recommended {
			count++
			rec = o
		}
	}
	require.Equal(t, 1, count, "exactly one recommended option")
	return rec
}

func TestOptimizeFasterSupplierWinsWhenStockIsLow(t *testing.T) {
	candidates := []Candidate{
		{Supplier: supplierDaily(1, 2), Price: price(10, 1, "1.00")},
		{Supplier: supplierMonFri(2, 4), Price: price(10, 2, "0.80")},
	}
	options := Optimize(candidates, 45, 2.5, optimizeNow)
	require.Len(t, options, 2)

	rec := recommendedOf(t, options)
	require.EqualValues(t, 1, rec.SupplierID)
	require.Equal(t, RiskHigh, rec.Risk)
	require.Equal(t, 2, rec.DaysUntilDelivery)

	for _, o := range options {
		if o.SupplierID == 2 {
			require.Equal(t, RiskCritical, o.Risk)
			require.Equal(t, 4, o.DaysUntilDelivery)
		}
	}
}

func TestOptimizeCheaperSupplierWinsWhenStockIsAmple(t *testing.T) {
	candidates := []Candidate{
		{Supplier: supplierDaily(1, 2), Price: price(10, 1, "1.00")},
		{Supplier: supplierMonFri(2, 4), Price: price(10, 2, "0.80")},
	}
	options := Optimize(candidates, 45, 15, optimizeNow)

	rec := recommendedOf(t, options)
	require.EqualValues(t, 2, rec.SupplierID)
	require.Equal(t, RiskLow, rec.Risk)
	require.True(t, rec.TotalCost.Equal(decimal.RequireFromString("36")), rec.TotalCost.String())
	require.True(t, rec.SavingsVsMax.Equal(decimal.RequireFromString("9")), rec.SavingsVsMax.String())
	require.InDelta(t, 20, rec.SavingsPercent, 0.001)
}

func TestOptimizeCostTieBrokenByDelivery(t *testing.T) {
	candidates := []Candidate{
		{Supplier: supplierDaily(1, 3), Price: price(10, 1, "1.00")},
		{Supplier: supplierDaily(2, 1), Price: price(10, 2, "1.00")},
	}
	options := Optimize(candidates, 20, 30, optimizeNow)

	rec := recommendedOf(t, options)
	require.EqualValues(t, 2, rec.SupplierID)
}

func TestOptimizeAppliesSupplierMOQ(t *testing.T) {
	bulk := supplierDaily(1, 2)
	bulk.MinOrderQty = 12
	candidates := []Candidate{{Supplier: bulk, Price: price(10, 1, "1.00")}}
	options := Optimize(candidates, 45, 20, optimizeNow)

	require.EqualValues(t, 48, options[0].OrderQty)
	require.True(t, options[0].TotalCost.Equal(decimal.RequireFromString("48")))
}

func TestOptimizeSortedByCost(t *testing.T) {
	candidates := []Candidate{
		{Supplier: supplierDaily(1, 2), Price: price(10, 1, "3.00")},
		{Supplier: supplierDaily(2, 2), Price: price(10, 2, "1.00")},
		{Supplier: supplierDaily(3, 2), Price: price(10, 3, "2.00")},
	}
	options := Optimize(candidates, 10, 30, optimizeNow)
	require.Len(t, options, 3)
	for i := 1; i < len(options); i++ {
		require.False(t, options[i].TotalCost.LessThan(options[i-1].TotalCost))
	}
}

func TestOptimizeNoCandidates(t *testing.T) {
	require.Nil(t, Optimize(nil, 10, 5, optimizeNow))
}

func TestOptimizeDeterministicTieOnEverything(t *testing.T) {
	candidates := []Candidate{
		{Supplier: supplierDaily(2, 2), Price: price(10, 2, "1.00")},
		{Supplier: supplierDaily(1, 2), Price: price(10, 1, "1.00")},
	}
	first := recommendedOf(t, Optimize(candidates, 10, 30, optimizeNow))
	second := recommendedOf(t, Optimize(candidates, 10, 30, optimizeNow))
	require.Equal(t, first.SupplierID, second.SupplierID)
	require.EqualValues(t, 1, first.SupplierID)
}
