package replenish

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek/internal/catalog"
)

type fakeCatalog struct {
	products  []catalog.Product
	listErr   error
	prices    map[int64][]catalog.SupplierPrice
	priceErr  map[int64]error
	suppliers []catalog.Supplier
}

func (f *fakeCatalog) ListActiveProducts(ctx context.Context) ([]catalog.Product, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.products, nil
}

func (f *fakeCatalog) PricesFor(ctx context.Context, productID int64) ([]catalog.SupplierPrice, error) {
	if err := f.priceErr[productID]; err != nil {
		return nil, err
	}
	return f.prices[productID], nil
}

func (f *fakeCatalog) ActiveSuppliers(ctx context.Context) ([]catalog.Supplier, error) {
	return f.suppliers, nil
}

type fakeStock map[int64]int64

func (f fakeStock) CurrentStockBulk(ctx context.Context, productIDs []int64, storeID string) (map[int64]int64, error) {
	return f, nil
}

type fakeDemand map[int64][]int64

func (f fakeDemand) History(ctx context.Context, storeID string, productIDs []int64, windowDays int) (map[int64][]int64, error) {
	return f, nil
}

type fakeWriter struct {
	calls  int
	stored []Suggestion
}

func (f *fakeWriter) ReplaceForStore(ctx context.Context, storeID string, suggestions []Suggestion) error {
	f.calls++
	f.stored = suggestions
	return nil
}

func steadySeries(value int64, days int) []int64 {
	series := make([]int64, days)
	for i := range series {
		series[i] = value
	}
	return series
}

func bySKU(suggestions []Suggestion) map[string]Suggestion {
	out := make(map[string]Suggestion, len(suggestions))
	for _, s := range suggestions {
		out[s.SKU] = s
	}
	return out
}

func TestGenerateEndToEnd(t *testing.T) {
	cat := &fakeCatalog{
		products: []catalog.Product{
			{ID: 1, SKU: "PARA-500", Status: catalog.ProductActive},
			{ID: 2, SKU: "VITC-100", Status: catalog.ProductActive},
		},
		prices: map[int64][]catalog.SupplierPrice{
			1: {price(1, 1, "1.00"), price(1, 2, "0.80")},
			2: {price(2, 1, "0.50")},
		},
		suppliers: []catalog.Supplier{supplierDaily(1, 2), supplierDaily(2, 4)},
	}
	stock := fakeStock{1: 25, 2: 1000}
	demand := fakeDemand{1: steadySeries(10, 30), 2: steadySeries(0, 30)}
	writer := &fakeWriter{}

	gen := NewGenerator(cat, stock, demand, writer, nil, nil)
	result, err := gen.Generate(context.Background(), GenerateRequest{StoreID: "JKT-01", IncludeSupplierComparison: true})
	require.NoError(t, err)
	require.Equal(t, 1, writer.calls)
	require.Len(t, result.Suggestions, 2)

	suggestions := bySKU(result.Suggestions)

	para := suggestions["PARA-500"]
	require.InDelta(t, 2.5, para.DaysRemaining, 0.001)
	require.Equal(t, UrgencyUrgent, para.Urgency)
	require.Equal(t, ActionOrderToday, para.Reason.Action)
	// The cheap supplier delivers in 4 days, past the 2.5-day runway, so
	// the faster one wins despite costing more.
	require.EqualValues(t, 1, para.SupplierID)
	require.EqualValues(t, 45, para.OrderQty)
	require.EqualValues(t, 20, para.ROP)
	require.NotNil(t, para.NextDeliveryDate)
	require.Len(t, para.SupplierOptions, 2)
	require.Equal(t, PatternSteady, para.Reason.Pattern)

	vitc := suggestions["VITC-100"]
	require.EqualValues(t, MaxCoverageDays, vitc.DaysRemaining)
	require.Equal(t, UrgencyOverstocked, vitc.Urgency)
	require.Equal(t, ActionReduceOrders, vitc.Reason.Action)
	require.Zero(t, vitc.OrderQty)
	require.Nil(t, vitc.NextDeliveryDate)
	require.Equal(t, PatternSteady, vitc.Reason.Pattern)
	require.Zero(t, vitc.Reason.PatternConfidence)

	require.Equal(t, 2, result.Summary.TotalProducts)
	require.Equal(t, 1, result.Summary.CriticalProducts)
	require.Equal(t, 1, result.Summary.GoodStockProducts)
}

func TestGenerateSupplierRiskOverridesUrgency(t *testing.T) {
	cat := &fakeCatalog{
		products:  []catalog.Product{{ID: 1, SKU: "AMOX-250", Status: catalog.ProductActive}},
		prices:    map[int64][]catalog.SupplierPrice{1: {price(1, 1, "2.00")}},
		suppliers: []catalog.Supplier{supplierDaily(1, 5)},
	}
	writer := &fakeWriter{}
	gen := NewGenerator(cat, fakeStock{1: 25}, fakeDemand{1: steadySeries(10, 30)}, writer, nil, nil)

	result, err := gen.Generate(context.Background(), GenerateRequest{StoreID: "JKT-01"})
	require.NoError(t, err)

	sug := result.Suggestions[0]
	// 2.5 days of stock would be URGENT, but delivery takes 5 days.
	require.Equal(t, UrgencyCritical, sug.Urgency)
	require.Equal(t, ActionOrderToday, sug.Reason.Action)
	require.Equal(t, 1, result.Summary.CriticalProducts)
}

func TestGeneratePriceLookupFailureStillEmitsEntry(t *testing.T) {
	cat := &fakeCatalog{
		products: []catalog.Product{
			{ID: 1, SKU: "OK-SKU", Status: catalog.ProductActive},
			{ID: 2, SKU: "BROKEN-SKU", Status: catalog.ProductActive},
		},
		prices:    map[int64][]catalog.SupplierPrice{1: {price(1, 1, "1.00")}},
		priceErr:  map[int64]error{2: fmt.Errorf("catalog timeout")},
		suppliers: []catalog.Supplier{supplierDaily(1, 2)},
	}
	writer := &fakeWriter{}
	gen := NewGenerator(cat, fakeStock{1: 10, 2: 10}, fakeDemand{1: steadySeries(5, 30), 2: steadySeries(5, 30)}, writer, nil, nil)

	result, err := gen.Generate(context.Background(), GenerateRequest{StoreID: "JKT-01"})
	require.NoError(t, err)
	require.Len(t, result.Suggestions, 2)

	broken := bySKU(result.Suggestions)["BROKEN-SKU"]
	require.NotEmpty(t, broken.Reason.Errors)
	require.Equal(t, ActionMonitor, broken.Reason.Action)
	require.Zero(t, broken.SupplierID)
}

func TestGenerateCancellationWritesNothing(t *testing.T) {
	cat := &fakeCatalog{
		products:  []catalog.Product{{ID: 1, SKU: "SKU-1", Status: catalog.ProductActive}},
		prices:    map[int64][]catalog.SupplierPrice{1: {price(1, 1, "1.00")}},
		suppliers: []catalog.Supplier{supplierDaily(1, 2)},
	}
	writer := &fakeWriter{}
	gen := NewGenerator(cat, fakeStock{1: 10}, fakeDemand{1: steadySeries(5, 30)}, writer, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gen.Generate(ctx, GenerateRequest{StoreID: "JKT-01"})
	require.Error(t, err)
	require.Zero(t, writer.calls)
}

func TestGenerateOrderQtyMatchesCoverageScenario(t *testing.T) {
	// Candidate lead times differ widely; the recommended supplier is the
	// cheap fast one, so its own lead time must size the order, not the
	// slowest candidate's.
	cat := &fakeCatalog{
		products:  []catalog.Product{{ID: 1, SKU: "IBU-400", Status: catalog.ProductActive}},
		prices:    map[int64][]catalog.SupplierPrice{1: {price(1, 1, "0.80"), price(1, 2, "1.00")}},
		suppliers: []catalog.Supplier{supplierDaily(1, 1), supplierDaily(2, 10)},
	}
	series := make([]int64, 30)
	for i := range series {
		series[i] = 2
		if i%2 == 1 {
			series[i] = 8
		}
	}
	writer := &fakeWriter{}
	gen := NewGenerator(cat, fakeStock{1: 140}, fakeDemand{1: series}, writer, nil, nil)

	result, err := gen.Generate(context.Background(), GenerateRequest{StoreID: "JKT-01", CoverageDays: 30})
	require.NoError(t, err)

	sug := result.Suggestions[0]
	require.EqualValues(t, 1, sug.SupplierID)

	var thirty *Scenario
	for i := range sug.Scenarios {
		if sug.Scenarios[i].CoverageDays == 30 {
			thirty = &sug.Scenarios[i]
		}
	}
	require.NotNil(t, thirty)
	require.Equal(t, thirty.OrderQty, sug.OrderQty)
}

func TestGenerateCatalogFailureIsUnavailable(t *testing.T) {
	cat := &fakeCatalog{listErr: fmt.Errorf("catalog timeout")}
	gen := NewGenerator(cat, fakeStock{}, fakeDemand{}, &fakeWriter{}, nil, nil)

	_, err := gen.Generate(context.Background(), GenerateRequest{StoreID: "JKT-01"})
	require.ErrorIs(t, err, ErrDependencyUnavailable)
}

func TestGenerateRequestValidation(t *testing.T) {
	gen := NewGenerator(&fakeCatalog{}, fakeStock{}, fakeDemand{}, &fakeWriter{}, nil, nil)
	ctx := context.Background()

	_, err := gen.Generate(ctx, GenerateRequest{})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = gen.Generate(ctx, GenerateRequest{StoreID: "JKT-01", CoverageDays: 5})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = gen.Generate(ctx, GenerateRequest{StoreID: "JKT-01", ServiceLevel: 0.3})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = gen.Generate(ctx, GenerateRequest{StoreID: "JKT-01", AnalysisPeriodDays: 3})
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestGenerateDefaults(t *testing.T) {
	req := GenerateRequest{StoreID: "JKT-01"}
	require.NoError(t, req.Normalize())
	require.Equal(t, 7, req.CoverageDays)
	require.InDelta(t, 0.95, req.ServiceLevel, 0.001)
	require.Equal(t, 30, req.AnalysisPeriodDays)
	require.Equal(t, 8, req.Workers)
}
