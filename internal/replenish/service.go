package replenish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/catalog"
	"github.com/apotek-pos/apotek/internal/shared"
)

// Filter narrows suggestion listings.
type Filter struct {
	StoreID   string
	Status    Status
	ProductID int64
	Limit     int
}

// UpdatePendingInput carries the editable fields of a PENDING suggestion.
// Nil fields are left untouched.
type UpdatePendingInput struct {
	OrderQty *int64
	ROP      *int64
	Note     *string
}

// TxRepository exposes the transactional operations the converter needs.
type TxRepository interface {
	SuggestionsForUpdate(ctx context.Context, ids []int64) ([]Suggestion, error)
	UpdateStatusIfPending(ctx context.Context, ids []int64, to Status) (int64, error)
	UpdateStatus(ctx context.Context, ids []int64, from, to Status) (int64, error)
	NextNumber(ctx context.Context, key, prefix string) (string, error)
	InsertPO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) error
}

// RepositoryPort abstracts suggestion persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter Filter) ([]Suggestion, error)
	Get(ctx context.Context, id int64) (Suggestion, error)
	UpdatePending(ctx context.Context, id int64, input UpdatePendingInput) (int64, error)
	Reject(ctx context.Context, ids []int64) (int64, error)
	ClearStore(ctx context.Context, storeID string) (int64, error)
}

// SupplierReader resolves suppliers at approval time. Lead times and the
// active flag are re-read; captured prices are not.
type SupplierReader interface {
	SuppliersByID(ctx context.Context, ids []int64) (map[int64]catalog.Supplier, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SkippedSuggestion is an approved suggestion that could not be ordered.
type SkippedSuggestion struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// ConvertResult reports one approval run.
type ConvertResult struct {
	Approved int64               `json:"approved"`
	POs      []PurchaseOrder     `json:"purchase_orders"`
	Skipped  []SkippedSuggestion `json:"skipped,omitempty"`
}

// Service manages the suggestion lifecycle and converts approvals into
// draft purchase orders.
type Service struct {
	repo      RepositoryPort
	suppliers SupplierReader
	audit     AuditPort
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, suppliers SupplierReader, audit AuditPort) *Service {
	return &Service{repo: repo, suppliers: suppliers, audit: audit}
}

// List returns suggestions matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Suggestion, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

// Get loads one suggestion.
func (s *Service) Get(ctx context.Context, id int64) (Suggestion, error) {
	return s.repo.Get(ctx, id)
}

// UpdatePending edits order quantity, reorder point, or note. Only PENDING
// suggestions are editable.
func (s *Service) UpdatePending(ctx context.Context, id int64, input UpdatePendingInput) (Suggestion, error) {
	if input.OrderQty != nil && *input.OrderQty < 0 {
		return Suggestion{}, fmt.Errorf("%w: order qty must be >= 0", ErrBadRequest)
	}
	if input.ROP != nil && *input.ROP < 0 {
		return Suggestion{}, fmt.Errorf("%w: rop must be >= 0", ErrBadRequest)
	}
	affected, err := s.repo.UpdatePending(ctx, id, input)
	if err != nil {
		return Suggestion{}, err
	}
	if affected == 0 {
		// Either missing or no longer PENDING; look once more to tell
		// the two apart.
		if _, err := s.repo.Get(ctx, id); err != nil {
			return Suggestion{}, err
		}
		return Suggestion{}, ErrNotPending
	}
	return s.repo.Get(ctx, id)
}

// Reject marks PENDING suggestions REJECTED. Non-pending ids are left
// untouched; the count of rejected rows is returned.
func (s *Service) Reject(ctx context.Context, ids []int64, actorID int64) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: suggestion ids required", ErrBadRequest)
	}
	affected, err := s.repo.Reject(ctx, ids)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.recordAudit(ctx, actorID, "SUGGESTION_REJECT", 0, map[string]any{"ids": ids, "rejected": affected})
	}
	return affected, nil
}

// Clear deletes a store's PENDING suggestions.
func (s *Service) Clear(ctx context.Context, storeID string, actorID int64) (int64, error) {
	if storeID == "" {
		return 0, fmt.Errorf("%w: store required", ErrBadRequest)
	}
	deleted, err := s.repo.ClearStore(ctx, storeID)
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, actorID, "SUGGESTION_CLEAR", 0, map[string]any{"store_id": storeID, "deleted": deleted})
	return deleted, nil
}

// Approve marks PENDING suggestions APPROVED and, when generatePO is set,
// creates one DRAFT purchase order per recommended supplier, moving the
// covered suggestions to ORDERED. Everything happens in one transaction; a
// suggestion whose supplier vanished is skipped and stays APPROVED.
func (s *Service) Approve(ctx context.Context, ids []int64, generatePO bool, actorID int64) (ConvertResult, error) {
	if len(ids) == 0 {
		return ConvertResult{}, fmt.Errorf("%w: suggestion ids required", ErrBadRequest)
	}

	var result ConvertResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		selected, err := tx.SuggestionsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		var pending []Suggestion
		pendingIDs := []int64{}
		for _, sug := range selected {
			if sug.Status == StatusPending {
				pending = append(pending, sug)
				pendingIDs = append(pendingIDs, sug.ID)
			}
		}
		if len(pending) == 0 {
			return ErrNoEligibleSuggestions
		}

		approved, err := tx.UpdateStatusIfPending(ctx, pendingIDs, StatusApproved)
		if err != nil {
			return err
		}
		if approved != int64(len(pendingIDs)) {
			moved, findErr := movedIDs(ctx, tx, pendingIDs)
			if findErr != nil {
				return findErr
			}
			return &ConcurrentModificationError{IDs: moved}
		}
		result.Approved = approved

		if !generatePO {
			return nil
		}
		pos, skipped, err := s.convertToOrders(ctx, tx, pending, actorID)
		if err != nil {
			return err
		}
		result.POs = pos
		result.Skipped = skipped
		return nil
	})
	if err != nil {
		return ConvertResult{}, err
	}

	s.recordAudit(ctx, actorID, "SUGGESTION_APPROVE", 0, map[string]any{
		"ids": ids, "approved": result.Approved, "purchase_orders": len(result.POs),
	})
	return result, nil
}

// convertToOrders groups approved suggestions by recommended supplier and
// emits one draft PO per group.
func (s *Service) convertToOrders(ctx context.Context, tx TxRepository, approved []Suggestion, actorID int64) ([]PurchaseOrder, []SkippedSuggestion, error) {
	supplierIDs := []int64{}
	seen := map[int64]bool{}
	for _, sug := range approved {
		if sug.SupplierID != 0 && !seen[sug.SupplierID] {
			seen[sug.SupplierID] = true
			supplierIDs = append(supplierIDs, sug.SupplierID)
		}
	}
	suppliers, err := s.suppliers.SuppliersByID(ctx, supplierIDs)
	if err != nil {
		return nil, nil, err
	}

	groups := map[int64][]Suggestion{}
	order := []int64{}
	skipped := []SkippedSuggestion{}
	for _, sug := range approved {
		supplier, ok := suppliers[sug.SupplierID]
		switch {
		case sug.SupplierID == 0:
			skipped = append(skipped, SkippedSuggestion{ID: sug.ID, Reason: "no recommended supplier"})
		case !ok:
			skipped = append(skipped, SkippedSuggestion{ID: sug.ID, Reason: "supplier missing"})
		case !supplier.Active:
			skipped = append(skipped, SkippedSuggestion{ID: sug.ID, Reason: "supplier inactive"})
		default:
			if len(groups[sug.SupplierID]) == 0 {
				order = append(order, sug.SupplierID)
			}
			groups[sug.SupplierID] = append(groups[sug.SupplierID], sug)
		}
	}

	now := time.Now()
	pos := []PurchaseOrder{}
	for _, supplierID := range order {
		group := groups[supplierID]
		supplier := suppliers[supplierID]

		number, err := tx.NextNumber(ctx, shared.SeqPurchaseOrder, "PO")
		if err != nil {
			return nil, nil, err
		}
		po := PurchaseOrder{
			Number:     number,
			StoreID:    group[0].StoreID,
			SupplierID: supplierID,
			Status:     POStatusDraft,
			ExpectedAt: now.AddDate(0, 0, supplier.LeadTimeDays),
			CreatedBy:  actorID,
		}
		subtotal := decimal.Zero
		lines := make([]POLine, 0, len(group))
		orderedIDs := make([]int64, 0, len(group))
		for _, sug := range group {
			lineTotal := sug.UnitCost.Mul(decimal.NewFromInt(sug.OrderQty)).Round(4)
			lines = append(lines, POLine{
				ProductID: sug.ProductID,
				Qty:       sug.OrderQty,
				UnitCost:  sug.UnitCost,
				LineTotal: lineTotal,
			})
			subtotal = subtotal.Add(lineTotal)
			orderedIDs = append(orderedIDs, sug.ID)
		}
		po.Subtotal = subtotal

		poID, err := tx.InsertPO(ctx, po)
		if err != nil {
			return nil, nil, err
		}
		po.ID = poID
		for i := range lines {
			lines[i].POID = poID
			if err := tx.InsertPOLine(ctx, lines[i]); err != nil {
				return nil, nil, err
			}
		}
		po.Lines = lines

		moved, err := tx.UpdateStatus(ctx, orderedIDs, StatusApproved, StatusOrdered)
		if err != nil {
			return nil, nil, err
		}
		if moved != int64(len(orderedIDs)) {
			ids, findErr := movedIDs(ctx, tx, orderedIDs)
			if findErr != nil {
				return nil, nil, findErr
			}
			return nil, nil, &ConcurrentModificationError{IDs: ids}
		}
		pos = append(pos, po)
	}
	return pos, skipped, nil
}

// movedIDs re-reads the rows to report which ids escaped the expected
// status.
func movedIDs(ctx context.Context, tx TxRepository, ids []int64) ([]int64, error) {
	current, err := tx.SuggestionsForUpdate(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Status, len(current))
	for _, sug := range current {
		byID[sug.ID] = sug.Status
	}
	moved := []int64{}
	for _, id := range ids {
		status, ok := byID[id]
		if !ok || (status != StatusPending && status != StatusApproved) {
			moved = append(moved, id)
		}
	}
	return moved, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	// Bulk actions carry their ids in meta.
	id := "batch"
	if entityID != 0 {
		id = fmt.Sprintf("%d", entityID)
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "suggestion",
		EntityID: id,
		Meta:     meta,
	})
}

// IsRetryable reports whether an approval error is worth retrying.
func IsRetryable(err error) bool {
	var conflict *ConcurrentModificationError
	return errors.As(err, &conflict)
}
