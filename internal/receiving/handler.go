package receiving

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/platform/httpx"
	"github.com/apotek-pos/apotek/internal/shared"
)

// Handler exposes goods-receipt posting.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Register mounts the receiving endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/receipts", h.receive)
	r.Get("/receipts/{id}", h.getReceipt)
	r.Get("/stores/{storeID}/receipts", h.listReceipts)
}

type receiveLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,min=1"`
	BatchNo   string          `json:"batch_no" validate:"required,max=64"`
	Expiry    *time.Time      `json:"expiry_date"`
	Qty       int64           `json:"qty" validate:"required,min=1"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type receiveRequest struct {
	StoreID    string               `json:"store_id" validate:"required"`
	SupplierID int64                `json:"supplier_id" validate:"required,min=1"`
	POID       int64                `json:"po_id"`
	InvoiceNo  string               `json:"invoice_no" validate:"max=64"`
	VATRate    decimal.Decimal      `json:"vat_rate"`
	Lines      []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var body receiveRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	actorID, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	input := ReceiveInput{
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		StoreID:        body.StoreID,
		SupplierID:     body.SupplierID,
		POID:           body.POID,
		InvoiceNo:      body.InvoiceNo,
		VATRate:        body.VATRate,
		ActorID:        actorID,
		Lines:          make([]ReceiveLineInput, len(body.Lines)),
	}
	for i, line := range body.Lines {
		input.Lines[i] = ReceiveLineInput{
			ProductID: line.ProductID,
			BatchNo:   line.BatchNo,
			Expiry:    line.Expiry,
			Qty:       line.Qty,
			UnitCost:  line.UnitCost,
		}
	}

	grn, lines, err := h.service.Receive(r.Context(), input)
	if err != nil {
		respondReceivingError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"receipt": grn, "lines": lines})
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "id must be an integer")
		return
	}
	grn, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondReceivingError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipt": grn, "lines": lines})
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "limit must be an integer")
			return
		}
		limit = parsed
	}
	receipts, err := h.service.List(r.Context(), chi.URLParam(r, "storeID"), limit)
	if err != nil {
		respondReceivingError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func respondReceivingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrDuplicate, err.Error()))
	case errors.Is(err, ErrEmptyReceipt), errors.Is(err, ErrInvalidReceiptLine):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	default:
		httpx.RespondError(w, err)
	}
}
