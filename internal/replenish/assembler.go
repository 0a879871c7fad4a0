package replenish

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/apotek-pos/apotek/internal/catalog"
)

// GenerateRequest parametrizes one suggestion run for a store.
type GenerateRequest struct {
	StoreID                   string
	CoverageDays              int
	ServiceLevel              float64
	AnalysisPeriodDays        int
	IncludeSupplierComparison bool
	Workers                   int
}

var validCoverageDays = map[int]bool{1: true, 7: true, 14: true, 30: true, 60: true, 90: true}

// Normalize applies defaults and validates ranges.
func (r *GenerateRequest) Normalize() error {
	if r.StoreID == "" {
		return fmt.Errorf("%w: store required", ErrBadRequest)
	}
	if r.CoverageDays == 0 {
		r.CoverageDays = 7
	}
	if !validCoverageDays[r.CoverageDays] {
		return fmt.Errorf("%w: coverage days must be one of 1, 7, 14, 30, 60, 90", ErrBadRequest)
	}
	if r.ServiceLevel == 0 {
		r.ServiceLevel = 0.95
	}
	if r.ServiceLevel < 0.5 || r.ServiceLevel > 0.999 {
		return fmt.Errorf("%w: service level must be in [0.5, 0.999]", ErrBadRequest)
	}
	if r.AnalysisPeriodDays == 0 {
		r.AnalysisPeriodDays = 30
	}
	if r.AnalysisPeriodDays < 7 || r.AnalysisPeriodDays > 365 {
		return fmt.Errorf("%w: analysis period must be in [7, 365] days", ErrBadRequest)
	}
	if r.Workers <= 0 {
		r.Workers = 8
	}
	return nil
}

// Summary counts suggestions per urgency bucket.
type Summary struct {
	TotalProducts     int `json:"total_products"`
	CriticalProducts  int `json:"critical_products"`
	LowStockProducts  int `json:"low_stock_products"`
	GoodStockProducts int `json:"good_stock_products"`
}

// Result is one completed generation run.
type Result struct {
	Suggestions []Suggestion `json:"suggestions"`
	Summary     Summary      `json:"summary"`
}

// CatalogReader is the product and supplier catalog surface the generator
// needs.
type CatalogReader interface {
	ListActiveProducts(ctx context.Context) ([]catalog.Product, error)
	PricesFor(ctx context.Context, productID int64) ([]catalog.SupplierPrice, error)
	ActiveSuppliers(ctx context.Context) ([]catalog.Supplier, error)
}

// StockReader provides qty-on-hand per product.
type StockReader interface {
	CurrentStockBulk(ctx context.Context, productIDs []int64, storeID string) (map[int64]int64, error)
}

// DemandReader provides daily demand series per product.
type DemandReader interface {
	History(ctx context.Context, storeID string, productIDs []int64, windowDays int) (map[int64][]int64, error)
}

// SuggestionWriter persists a generation run atomically, replacing the
// store's previous pending suggestions.
type SuggestionWriter interface {
	ReplaceForStore(ctx context.Context, storeID string, suggestions []Suggestion) error
}

// Generator fans per-SKU analysis across a bounded worker pool and writes
// the resulting suggestions in one batch.
type Generator struct {
	catalog CatalogReader
	stock   StockReader
	demand  DemandReader
	writer  SuggestionWriter
	log     *slog.Logger
	loc     *time.Location
}

// NewGenerator builds Generator. loc is the store's local zone for schedule
// arithmetic; nil means UTC.
func NewGenerator(cat CatalogReader, stock StockReader, demand DemandReader, writer SuggestionWriter, log *slog.Logger, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{catalog: cat, stock: stock, demand: demand, writer: writer, log: log, loc: loc}
}

// Generate runs the full analysis for one store. Per-SKU work is
// independent; a SKU whose catalog lookup fails is still emitted, flagged
// with its error and a MONITOR action. Cancellation discards everything;
// nothing is written unless every worker finished.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	if err := req.Normalize(); err != nil {
		return Result{}, err
	}
	now := time.Now().In(g.loc)
	started := time.Now()
	runID := uuid.NewString()
	log := g.log.With("run_id", runID, "store", req.StoreID)

	products, err := g.catalog.ListActiveProducts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: load products: %w", ErrDependencyUnavailable, err)
	}
	if len(products) == 0 {
		return Result{}, nil
	}
	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}

	stock, err := g.stock.CurrentStockBulk(ctx, ids, req.StoreID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: load stock: %w", ErrDependencyUnavailable, err)
	}
	history, err := g.demand.History(ctx, req.StoreID, ids, req.AnalysisPeriodDays)
	if err != nil {
		return Result{}, fmt.Errorf("%w: load history: %w", ErrDependencyUnavailable, err)
	}
	supplierList, err := g.catalog.ActiveSuppliers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: load suppliers: %w", ErrDependencyUnavailable, err)
	}
	suppliers := make(map[int64]catalog.Supplier, len(supplierList))
	for _, s := range supplierList {
		suppliers[s.ID] = s
	}

	suggestions := make([]Suggestion, len(products))
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(req.Workers)
	for i, product := range products {
		grp.Go(func() error {
			if err := grpCtx.Err(); err != nil {
				return err
			}
			suggestions[i] = g.analyzeSKU(grpCtx, req, product, stock[product.ID], history[product.ID], suppliers, now)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := g.writer.ReplaceForStore(ctx, req.StoreID, suggestions); err != nil {
		return Result{}, fmt.Errorf("replenish: write suggestions: %w", err)
	}

	result := Result{Suggestions: suggestions, Summary: summarize(suggestions)}
	log.InfoContext(ctx, "suggestions generated",
		"products", len(products),
		"critical", result.Summary.CriticalProducts,
		"elapsed", time.Since(started))
	return result, nil
}

// analyzeSKU composes forecast, coverage, and supplier optimization for one
// product. It never fails; lookup errors are carried on the suggestion.
func (g *Generator) analyzeSKU(ctx context.Context, req GenerateRequest, product catalog.Product, currentStock int64, series []int64, suppliers map[int64]catalog.Supplier, now time.Time) Suggestion {
	forecast := Analyze(series, now)
	coverage := CurrentCoverage(currentStock, forecast.MeanDailyDemand, now)

	sug := Suggestion{
		ProductID:          product.ID,
		SKU:                product.SKU,
		StoreID:            req.StoreID,
		CurrentStock:       currentStock,
		DaysRemaining:      coverage.DaysRemaining,
		Urgency:            coverage.Urgency,
		Status:             StatusPending,
		AnalysisPeriodDays: req.AnalysisPeriodDays,
		Reason: Reason{
			Pattern:           forecast.Pattern,
			PatternConfidence: forecast.Confidence,
			Trend:             forecast.Trend,
			ForecastedDemand:  forecast.MeanDailyDemand,
			Urgency:           coverage.Urgency,
			Action:            coverage.Action,
		},
	}

	prices, err := g.catalog.PricesFor(ctx, product.ID)
	if err != nil {
		g.log.WarnContext(ctx, "supplier prices unavailable", "product", product.ID, "error", err)
		sug.Reason.Action = ActionMonitor
		sug.Reason.Errors = append(sug.Reason.Errors, fmt.Sprintf("supplier prices unavailable: %v", err))
		sug.Reason.Message = "Supplier data unavailable; review manually."
		return sug
	}

	candidates := make([]Candidate, 0, len(prices))
	maxLead := 0
	for _, price := range prices {
		supplier, ok := suppliers[price.SupplierID]
		if !ok || !supplier.Active {
			continue
		}
		candidates = append(candidates, Candidate{Supplier: supplier, Price: price})
		if supplier.LeadTimeDays > maxLead {
			maxLead = supplier.LeadTimeDays
		}
	}

	if len(candidates) == 0 {
		sug.OrderQty = OrderQuantity(currentStock, forecast.MeanDailyDemand, req.CoverageDays, 0, 1)
		sug.Scenarios = Scenarios(currentStock, forecast.MeanDailyDemand, 0, decimal.Zero, 1, scenarioPeriods(req.CoverageDays))
		sug.Reason.Message = messageFor(sug.Urgency, coverage.DaysRemaining, sug.OrderQty, "")
		return sug
	}

	// The optimizer compares candidates on a quantity buffered for the
	// longest candidate lead time; the ROP and final order quantity are
	// recomputed below with the recommended supplier's own lead time.
	safety := SafetyStock(forecast.StdDev, req.ServiceLevel, maxLead)
	baseQty := OrderQuantity(currentStock, forecast.MeanDailyDemand, req.CoverageDays, safety, 1)
	options := Optimize(candidates, baseQty, coverage.DaysRemaining, now)

	var recommended SupplierOption
	for _, o := range options {
		if o.Recommended {
			recommended = o
			break
		}
	}
	rec := suppliers[recommended.SupplierID]
	recSafety := SafetyStock(forecast.StdDev, req.ServiceLevel, rec.LeadTimeDays)
	recMOQ := int64(1)
	for _, c := range candidates {
		if c.Supplier.ID == rec.ID {
			recMOQ = c.Supplier.MOQFor(c.Price)
		}
	}

	sug.SupplierID = rec.ID
	sug.SupplierName = rec.Name
	sug.UnitCost = recommended.UnitCost
	sug.ROP = int64(math.Ceil(forecast.MeanDailyDemand*float64(rec.LeadTimeDays))) + recSafety
	sug.OrderQty = OrderQuantity(currentStock, forecast.MeanDailyDemand, req.CoverageDays, recSafety, recMOQ)
	sug.Scenarios = Scenarios(currentStock, forecast.MeanDailyDemand, recSafety, recommended.UnitCost, recMOQ, scenarioPeriods(req.CoverageDays))
	if coverage.DaysRemaining < MaxCoverageDays {
		delivery := recommended.DeliveryDate
		sug.NextDeliveryDate = &delivery
	}
	if !req.IncludeSupplierComparison {
		options = []SupplierOption{recommended}
	}

	// Stockout before the best achievable delivery trumps the plain
	// coverage bucket.
	if recommended.Risk == RiskCritical {
		sug.Urgency = UrgencyCritical
		sug.Reason.Urgency = UrgencyCritical
		sug.Reason.Action = ActionOrderToday
	}
	sug.Reason.Message = messageFor(sug.Urgency, coverage.DaysRemaining, sug.OrderQty, rec.Name)

	sug.SupplierOptions = options
	return sug
}

// scenarioPeriods always includes the requested horizon.
func scenarioPeriods(coverageDays int) []int {
	periods := append([]int(nil), DefaultScenarioPeriods...)
	for _, d := range periods {
		if d == coverageDays {
			sort.Ints(periods)
			return periods
		}
	}
	periods = append(periods, coverageDays)
	sort.Ints(periods)
	return periods
}

func messageFor(urgency Urgency, daysRemaining float64, orderQty int64, supplierName string) string {
	switch urgency {
	case UrgencyCritical, UrgencyUrgent:
		if supplierName != "" {
			return fmt.Sprintf("Stock covers %.1f days. Order %d units from %s today.", daysRemaining, orderQty, supplierName)
		}
		return fmt.Sprintf("Stock covers %.1f days. Order %d units today.", daysRemaining, orderQty)
	case UrgencyLow:
		return fmt.Sprintf("Stock covers %.1f days. Plan an order of %d units soon.", daysRemaining, orderQty)
	case UrgencyOverstocked:
		return "Stock exceeds 30 days of demand. Reduce future orders."
	default:
		return fmt.Sprintf("Stock covers %.1f days. No action needed.", daysRemaining)
	}
}

func summarize(suggestions []Suggestion) Summary {
	s := Summary{TotalProducts: len(suggestions)}
	for _, sug := range suggestions {
		switch sug.Urgency {
		case UrgencyCritical, UrgencyUrgent:
			s.CriticalProducts++
		case UrgencyLow:
			s.LowStockProducts++
		default:
			s.GoodStockProducts++
		}
	}
	return s
}
