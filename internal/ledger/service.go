package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apotek-pos/apotek/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CurrentStock(ctx context.Context, productID int64, storeID string) (int64, error)
	CurrentStockBulk(ctx context.Context, productIDs []int64, storeID string) (map[int64]int64, error)
	BatchesFEFO(ctx context.Context, productID int64, storeID string) ([]Batch, error)
	ExpiringBatches(ctx context.Context, storeID string, within time.Duration) ([]Batch, error)
	MovementsForBatch(ctx context.Context, batchID int64) ([]StockMovement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates ledger operations: movement application, adjustments,
// write-offs and stock reads.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CurrentStock returns total on-hand quantity for a product in a store.
func (s *Service) CurrentStock(ctx context.Context, productID int64, storeID string) (int64, error) {
	if productID == 0 || storeID == "" {
		return 0, errors.New("ledger: product and store required")
	}
	return s.repo.CurrentStock(ctx, productID, storeID)
}

// BatchesFEFO returns batches with stock in consumption order.
func (s *Service) BatchesFEFO(ctx context.Context, productID int64, storeID string) ([]Batch, error) {
	if productID == 0 || storeID == "" {
		return nil, errors.New("ledger: product and store required")
	}
	return s.repo.BatchesFEFO(ctx, productID, storeID)
}

// ExpiringBatches lists batches expiring within the given number of days.
func (s *Service) ExpiringBatches(ctx context.Context, storeID string, days int) ([]Batch, error) {
	if storeID == "" {
		return nil, errors.New("ledger: store required")
	}
	if days <= 0 {
		days = 30
	}
	return s.repo.ExpiringBatches(ctx, storeID, time.Duration(days)*24*time.Hour)
}

// ApplyMovement updates one batch and appends a movement atomically.
// It rejects movements that violate the sign convention, reference a batch in
// another store, or would drive the batch negative.
func (s *Service) ApplyMovement(ctx context.Context, input MovementInput) (Batch, error) {
	if input.BatchID == 0 {
		return Batch{}, ErrBatchNotFound
	}
	if input.StoreID == "" {
		return Batch{}, errors.New("ledger: store required")
	}
	if !ValidSign(input.Type, input.Qty) {
		return Batch{}, fmt.Errorf("%w: %s qty %d", ErrInvalidMovement, input.Type, input.Qty)
	}
	var after Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		after, err = ApplyMovementTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.recordAudit(ctx, input, after)
	return after, nil
}

// ApplyMovementTx performs the movement inside an existing transaction. The
// composite sale and receiving flows call this with their own TxLedger.
func ApplyMovementTx(ctx context.Context, tx TxRepository, input MovementInput) (Batch, error) {
	batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
	if err != nil {
		return Batch{}, err
	}
	if batch.StoreID != input.StoreID {
		return Batch{}, ErrStoreMismatch
	}
	newQty := batch.QtyOnHand + input.Qty
	if newQty < 0 {
		return Batch{}, &InsufficientStockError{
			ProductID: batch.ProductID,
			Required:  -input.Qty,
			Available: batch.QtyOnHand,
		}
	}
	unitCost := input.UnitCost
	if unitCost.IsZero() {
		unitCost = batch.UnitCost
	}
	if err := tx.UpdateBatchQty(ctx, batch.ID, newQty); err != nil {
		return Batch{}, err
	}
	movement := StockMovement{
		ProductID: batch.ProductID,
		BatchID:   batch.ID,
		StoreID:   input.StoreID,
		Type:      input.Type,
		Qty:       input.Qty,
		UnitCost:  unitCost,
		ActorID:   input.ActorID,
		RefTable:  input.RefTable,
		RefID:     input.RefID,
	}
	if _, err := tx.InsertMovement(ctx, movement); err != nil {
		return Batch{}, err
	}
	batch.QtyOnHand = newQty
	return batch, nil
}

// AdjustInput describes a manual stock correction against a batch.
type AdjustInput struct {
	BatchID int64
	StoreID string
	Qty     int64
	ActorID int64
	Note    string
}

// Adjust posts a signed ADJUSTMENT movement.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Batch, error) {
	return s.ApplyMovement(ctx, MovementInput{
		BatchID:  input.BatchID,
		StoreID:  input.StoreID,
		Type:     MovementAdjustment,
		Qty:      input.Qty,
		ActorID:  input.ActorID,
		RefTable: "adjustments",
		RefID:    input.Note,
	})
}

// WriteOff posts a WASTE movement for expired or damaged stock.
func (s *Service) WriteOff(ctx context.Context, batchID int64, storeID string, qty int64, actorID int64) (Batch, error) {
	if qty <= 0 {
		return Batch{}, fmt.Errorf("%w: waste qty must be positive", ErrInvalidMovement)
	}
	return s.ApplyMovement(ctx, MovementInput{
		BatchID:  batchID,
		StoreID:  storeID,
		Type:     MovementWaste,
		Qty:      -qty,
		ActorID:  actorID,
		RefTable: "waste",
	})
}

// MovementsForBatch exposes the batch history.
func (s *Service) MovementsForBatch(ctx context.Context, batchID int64) ([]StockMovement, error) {
	return s.repo.MovementsForBatch(ctx, batchID)
}

func (s *Service) recordAudit(ctx context.Context, input MovementInput, after Batch) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   fmt.Sprintf("ledger:%s", input.Type),
		Entity:   "batch",
		EntityID: fmt.Sprintf("%d", after.ID),
		Meta: map[string]any{
			"store_id":   input.StoreID,
			"product_id": after.ProductID,
			"qty":        input.Qty,
			"on_hand":    after.QtyOnHand,
		},
	})
}
