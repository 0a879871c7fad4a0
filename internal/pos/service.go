package pos

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/ledger"
	"github.com/apotek-pos/apotek/internal/shared"
)

// TxRepository exposes the transactional operations sale flows need. It
// embeds the ledger operations so batch consumption and sale persistence
// commit atomically.
type TxRepository interface {
	ledger.TxRepository
	NextNumber(ctx context.Context, key, prefix string) (string, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertSaleLine(ctx context.Context, line SaleLine) error
	UpdateSaleStatus(ctx context.Context, saleID int64, from, to SaleStatus) (int64, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, saleID int64) (Sale, []SaleLine, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service creates sales with FEFO batch allocation and handles refunds.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateSale allocates stock in FEFO order, appends one SALE movement per
// batch touched, and persists the sale. The whole operation is atomic: any
// shortfall aborts everything.
func (s *Service) CreateSale(ctx context.Context, input CreateSaleInput) (Sale, []SaleLine, error) {
	if len(input.Lines) == 0 {
		return Sale{}, nil, ErrEmptySale
	}
	if input.StoreID == "" {
		return Sale{}, nil, errors.New("pos: store required")
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 || line.Qty <= 0 || line.UnitPrice.IsNegative() {
			return Sale{}, nil, ErrInvalidLine
		}
	}

	sale := buildSale(input)
	var lines []SaleLine

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// The transaction may be retried after a serialization failure.
		lines = nil
		number, err := tx.NextNumber(ctx, shared.SeqSale, "SALE")
		if err != nil {
			return err
		}
		sale.Number = number
		saleID, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = saleID

		for _, lineInput := range input.Lines {
			firstBatch, err := s.consumeFEFO(ctx, tx, saleID, input, lineInput)
			if err != nil {
				return err
			}
			line := buildLine(saleID, firstBatch, lineInput)
			if err := tx.InsertSaleLine(ctx, line); err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return Sale{}, nil, err
	}

	s.recordAudit(ctx, input.CashierID, "SALE_CREATE", sale.ID, map[string]any{
		"number": sale.Number, "store_id": sale.StoreID, "total": sale.Total.String(),
	})
	return sale, lines, nil
}

// consumeFEFO walks the product's batches in FEFO order, reducing each and
// appending a SALE movement, until the requested qty is covered. Returns the
// id of the first batch consumed.
func (s *Service) consumeFEFO(ctx context.Context, tx TxRepository, saleID int64, input CreateSaleInput, line SaleLineInput) (int64, error) {
	batches, err := tx.BatchesFEFOForUpdate(ctx, line.ProductID, input.StoreID)
	if err != nil {
		return 0, err
	}
	var available int64
	for _, b := range batches {
		available += b.QtyOnHand
	}
	if available < line.Qty {
		return 0, &ledger.InsufficientStockError{
			ProductID: line.ProductID,
			Required:  line.Qty,
			Available: available,
		}
	}

	remaining := line.Qty
	var firstBatch int64
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		take := remaining
		if batch.QtyOnHand < take {
			take = batch.QtyOnHand
		}
		if firstBatch == 0 {
			firstBatch = batch.ID
		}
		if err := tx.UpdateBatchQty(ctx, batch.ID, batch.QtyOnHand-take); err != nil {
			return 0, err
		}
		movement := ledger.StockMovement{
			ProductID: batch.ProductID,
			BatchID:   batch.ID,
			StoreID:   input.StoreID,
			Type:      ledger.MovementSale,
			Qty:       -take,
			UnitCost:  batch.UnitCost,
			ActorID:   input.CashierID,
			RefTable:  "sales",
			RefID:     fmt.Sprintf("%d", saleID),
		}
		if _, err := tx.InsertMovement(ctx, movement); err != nil {
			return 0, err
		}
		remaining -= take
	}
	return firstBatch, nil
}

// Refund marks the sale REFUNDED and returns each line's quantity to the
// line's recorded batch when it still exists. Refunding twice fails.
func (s *Service) Refund(ctx context.Context, saleID int64, actorID int64) (Sale, error) {
	sale, lines, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return Sale{}, err
	}
	if sale.Status != SaleCompleted {
		return Sale{}, ErrAlreadyRefunded
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Flip the status first. A concurrent refund that committed ahead
		// of us, or a retry of this transaction, fails here before any
		// stock is credited back.
		flipped, err := tx.UpdateSaleStatus(ctx, sale.ID, SaleCompleted, SaleRefunded)
		if err != nil {
			return err
		}
		if flipped == 0 {
			return ErrAlreadyRefunded
		}
		for _, line := range lines {
			batch, err := tx.GetBatchForUpdate(ctx, line.BatchID)
			if errors.Is(err, ledger.ErrBatchNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.UpdateBatchQty(ctx, batch.ID, batch.QtyOnHand+line.Qty); err != nil {
				return err
			}
			movement := ledger.StockMovement{
				ProductID: line.ProductID,
				BatchID:   batch.ID,
				StoreID:   sale.StoreID,
				Type:      ledger.MovementReturn,
				Qty:       line.Qty,
				UnitCost:  batch.UnitCost,
				ActorID:   actorID,
				RefTable:  "sales",
				RefID:     fmt.Sprintf("%d", sale.ID),
			}
			if _, err := tx.InsertMovement(ctx, movement); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}

	sale.Status = SaleRefunded
	s.recordAudit(ctx, actorID, "SALE_REFUND", sale.ID, map[string]any{"number": sale.Number})
	return sale, nil
}

// Get loads one sale with its lines.
func (s *Service) Get(ctx context.Context, saleID int64) (Sale, []SaleLine, error) {
	return s.repo.GetSale(ctx, saleID)
}

func buildSale(input CreateSaleInput) Sale {
	subtotal := decimal.Zero
	taxTotal := decimal.Zero
	discountTotal := decimal.Zero
	for _, line := range input.Lines {
		gross := line.UnitPrice.Mul(decimal.NewFromInt(line.Qty))
		subtotal = subtotal.Add(gross)
		taxTotal = taxTotal.Add(gross.Mul(line.TaxRate))
		discountTotal = discountTotal.Add(gross.Mul(line.Discount))
	}
	subtotal = money(subtotal)
	taxTotal = money(taxTotal)
	discountTotal = money(discountTotal)
	total := money(subtotal.Add(taxTotal).Sub(discountTotal))
	return Sale{
		StoreID:       input.StoreID,
		CashierID:     input.CashierID,
		Subtotal:      subtotal,
		TaxTotal:      taxTotal,
		DiscountTotal: discountTotal,
		Total:         total,
		Paid:          money(input.Paid),
		Change:        money(input.Paid.Sub(total)),
		PaymentMethod: input.PaymentMethod,
		Status:        SaleCompleted,
	}
}

func buildLine(saleID, firstBatch int64, input SaleLineInput) SaleLine {
	gross := input.UnitPrice.Mul(decimal.NewFromInt(input.Qty))
	lineTotal := money(gross.Add(gross.Mul(input.TaxRate)).Sub(gross.Mul(input.Discount)))
	return SaleLine{
		SaleID:    saleID,
		ProductID: input.ProductID,
		BatchID:   firstBatch,
		Qty:       input.Qty,
		UnitPrice: money(input.UnitPrice),
		TaxRate:   input.TaxRate,
		Discount:  input.Discount,
		LineTotal: lineTotal,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, saleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sale",
		EntityID: fmt.Sprintf("%d", saleID),
		Meta:     meta,
	})
}
