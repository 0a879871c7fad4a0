package receiving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/ledger"
	"github.com/apotek-pos/apotek/internal/shared"
)

// TxRepository exposes the transactional operations GRN posting needs. It
// embeds the ledger operations so batch creation and receipt persistence
// commit atomically.
type TxRepository interface {
	ledger.TxRepository
	NextNumber(ctx context.Context, key, prefix string) (string, error)
	InsertReceipt(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertReceiptLine(ctx context.Context, line ReceiptLine) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, receiptID int64) (GoodsReceipt, []ReceiptLine, error)
	ListReceipts(ctx context.Context, storeID string, limit int) ([]GoodsReceipt, error)
}

// IdempotencyPort guards against double posting of the same delivery.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service posts goods receipts: it creates or tops up batches and appends
// RECEIVE movements, all in one transaction.
type Service struct {
	repo  RepositoryPort
	idem  IdempotencyPort
	audit AuditPort
}

// NewService builds Service. idem and audit may be nil.
func NewService(repo RepositoryPort, idem IdempotencyPort, audit AuditPort) *Service {
	return &Service{repo: repo, idem: idem, audit: audit}
}

// Receive posts one delivery. A line whose (product, batch-number) already
// exists in the store tops up that batch; otherwise a new batch is created.
// Supplying the same idempotency key twice fails with ErrIdempotencyConflict
// without touching stock.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (GoodsReceipt, []ReceiptLine, error) {
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, nil, ErrEmptyReceipt
	}
	if input.StoreID == "" {
		return GoodsReceipt{}, nil, errors.New("receiving: store required")
	}
	if input.SupplierID == 0 {
		return GoodsReceipt{}, nil, errors.New("receiving: supplier required")
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 || line.Qty <= 0 || line.UnitCost.IsNegative() {
			return GoodsReceipt{}, nil, ErrInvalidReceiptLine
		}
	}

	if s.idem != nil && input.IdempotencyKey != "" {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, "receiving"); err != nil {
			return GoodsReceipt{}, nil, err
		}
	}

	grn := buildReceipt(input)
	var lines []ReceiptLine

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, shared.SeqGoodsReceipt, "GRN")
		if err != nil {
			return err
		}
		grn.Number = number
		grnID, err := tx.InsertReceipt(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = grnID

		for _, lineInput := range input.Lines {
			batchID, err := s.receiveLine(ctx, tx, grn, lineInput)
			if err != nil {
				return err
			}
			line := ReceiptLine{
				ReceiptID: grnID,
				ProductID: lineInput.ProductID,
				BatchID:   batchID,
				BatchNo:   lineInput.BatchNo,
				Expiry:    lineInput.Expiry,
				Qty:       lineInput.Qty,
				UnitCost:  lineInput.UnitCost,
			}
			if err := tx.InsertReceiptLine(ctx, line); err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		// The key marks a processed delivery, so a failed posting must
		// release it or the retry would be rejected.
		if s.idem != nil && input.IdempotencyKey != "" {
			_ = s.idem.Delete(ctx, input.IdempotencyKey)
		}
		return GoodsReceipt{}, nil, err
	}

	s.recordAudit(ctx, input.ActorID, "GRN_POST", grn.ID, map[string]any{
		"number": grn.Number, "store_id": grn.StoreID, "supplier_id": grn.SupplierID,
		"total_cost": grn.TotalCost.String(),
	})
	return grn, lines, nil
}

// receiveLine merges into an existing batch or creates one, then appends the
// RECEIVE movement. Returns the affected batch id.
func (s *Service) receiveLine(ctx context.Context, tx TxRepository, grn GoodsReceipt, line ReceiveLineInput) (int64, error) {
	var batchID int64
	existing, err := tx.FindBatchByNumberForUpdate(ctx, line.ProductID, grn.StoreID, line.BatchNo)
	switch {
	case err == nil:
		batchID = existing.ID
		if err := tx.UpdateBatchQty(ctx, existing.ID, existing.QtyOnHand+line.Qty); err != nil {
			return 0, err
		}
	case errors.Is(err, ledger.ErrBatchNotFound):
		batchID, err = tx.InsertBatch(ctx, ledger.Batch{
			ProductID:  line.ProductID,
			StoreID:    grn.StoreID,
			SupplierID: grn.SupplierID,
			BatchNo:    line.BatchNo,
			Expiry:     line.Expiry,
			UnitCost:   line.UnitCost,
			QtyOnHand:  line.Qty,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	movement := ledger.StockMovement{
		ProductID: line.ProductID,
		BatchID:   batchID,
		StoreID:   grn.StoreID,
		Type:      ledger.MovementReceive,
		Qty:       line.Qty,
		UnitCost:  line.UnitCost,
		ActorID:   grn.ReceivedBy,
		RefTable:  "goods_receipts",
		RefID:     fmt.Sprintf("%d", grn.ID),
	}
	if _, err := tx.InsertMovement(ctx, movement); err != nil {
		return 0, err
	}
	return batchID, nil
}

// Get loads one receipt with its lines.
func (s *Service) Get(ctx context.Context, receiptID int64) (GoodsReceipt, []ReceiptLine, error) {
	return s.repo.GetReceipt(ctx, receiptID)
}

// List returns recent receipts for a store, newest first.
func (s *Service) List(ctx context.Context, storeID string, limit int) ([]GoodsReceipt, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListReceipts(ctx, storeID, limit)
}

func buildReceipt(input ReceiveInput) GoodsReceipt {
	total := decimal.Zero
	for _, line := range input.Lines {
		total = total.Add(line.UnitCost.Mul(decimal.NewFromInt(line.Qty)))
	}
	total = total.Round(4)
	return GoodsReceipt{
		StoreID:    input.StoreID,
		SupplierID: input.SupplierID,
		POID:       input.POID,
		InvoiceNo:  input.InvoiceNo,
		TotalCost:  total,
		VATRate:    input.VATRate,
		VATAmount:  total.Mul(input.VATRate).Round(4),
		ReceivedBy: input.ActorID,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, grnID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "goods_receipt",
		EntityID: fmt.Sprintf("%d", grnID),
		Meta:     meta,
	})
}
