package pos

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/apotek-pos/apotek/internal/ledger"
	"github.com/apotek-pos/apotek/internal/platform/httpx"
)

// Handler exposes sale creation and refunds.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Register mounts the sales endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sales", h.createSale)
	r.Get("/sales/{id}", h.getSale)
	r.Post("/sales/{id}/refund", h.refund)
}

type saleLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,min=1"`
	Qty       int64           `json:"qty" validate:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Discount  decimal.Decimal `json:"discount"`
}

type createSaleRequest struct {
	StoreID       string            `json:"store_id" validate:"required"`
	CashierID     int64             `json:"cashier_id"`
	PaymentMethod string            `json:"payment_method" validate:"required,oneof=CASH CARD QRIS TRANSFER"`
	Paid          decimal.Decimal   `json:"paid"`
	Lines         []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var body createSaleRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateSaleInput{
		StoreID:       body.StoreID,
		CashierID:     body.CashierID,
		PaymentMethod: body.PaymentMethod,
		Paid:          body.Paid,
		Lines:         make([]SaleLineInput, len(body.Lines)),
	}
	for i, line := range body.Lines {
		input.Lines[i] = SaleLineInput{
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			TaxRate:   line.TaxRate,
			Discount:  line.Discount,
		}
	}

	sale, lines, err := h.service.CreateSale(r.Context(), input)
	if err != nil {
		respondSaleError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"sale": sale, "lines": lines})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "id must be an integer")
		return
	}
	sale, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondSaleError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale": sale, "lines": lines})
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "id must be an integer")
		return
	}
	actorID, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	sale, err := h.service.Refund(r.Context(), id, actorID)
	if err != nil {
		respondSaleError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func respondSaleError(w http.ResponseWriter, err error) {
	var shortage *ledger.InsufficientStockError
	switch {
	case errors.Is(err, ErrSaleNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.As(err, &shortage):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", shortage.Error())
	case errors.Is(err, ErrAlreadyRefunded):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
	case errors.Is(err, ErrEmptySale), errors.Is(err, ErrInvalidLine):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	default:
		httpx.RespondError(w, err)
	}
}
