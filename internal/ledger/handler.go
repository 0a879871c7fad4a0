package ledger

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/apotek-pos/apotek/internal/platform/httpx"
)

// Handler exposes read access to batch state plus manual corrections.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Register mounts the inventory endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/inventory/{storeID}", func(r chi.Router) {
		r.Get("/products/{productID}/stock", h.currentStock)
		r.Get("/products/{productID}/batches", h.batchesFEFO)
		r.Get("/expiring", h.expiringBatches)
	})
	r.Route("/batches/{batchID}", func(r chi.Router) {
		r.Get("/movements", h.movements)
		r.Post("/adjust", h.adjust)
		r.Post("/write-off", h.writeOff)
	})
}

func (h *Handler) currentStock(w http.ResponseWriter, r *http.Request) {
	productID, err := pathInt(r, "productID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	qty, err := h.service.CurrentStock(r.Context(), productID, chi.URLParam(r, "storeID"))
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "qty_on_hand": qty})
}

func (h *Handler) batchesFEFO(w http.ResponseWriter, r *http.Request) {
	productID, err := pathInt(r, "productID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	batches, err := h.service.BatchesFEFO(r.Context(), productID, chi.URLParam(r, "storeID"))
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) expiringBatches(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "days must be an integer")
			return
		}
		days = parsed
	}
	batches, err := h.service.ExpiringBatches(r.Context(), chi.URLParam(r, "storeID"), days)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	batchID, err := pathInt(r, "batchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	movements, err := h.service.MovementsForBatch(r.Context(), batchID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

type adjustRequest struct {
	StoreID string `json:"store_id" validate:"required"`
	Qty     int64  `json:"qty" validate:"required"`
	ActorID int64  `json:"actor_id"`
	Note    string `json:"note" validate:"max=500"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	batchID, err := pathInt(r, "batchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var body adjustRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.Adjust(r.Context(), AdjustInput{
		BatchID: batchID,
		StoreID: body.StoreID,
		Qty:     body.Qty,
		ActorID: body.ActorID,
		Note:    body.Note,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type writeOffRequest struct {
	StoreID string `json:"store_id" validate:"required"`
	Qty     int64  `json:"qty" validate:"required,min=1"`
	ActorID int64  `json:"actor_id"`
}

func (h *Handler) writeOff(w http.ResponseWriter, r *http.Request) {
	batchID, err := pathInt(r, "batchID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var body writeOffRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch, err := h.service.WriteOff(r.Context(), batchID, body.StoreID, body.Qty, body.ActorID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBatchNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrStoreMismatch), errors.Is(err, ErrInvalidMovement):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	default:
		httpx.RespondError(w, err)
	}
}

func pathInt(r *http.Request, name string) (int64, error) {
	value, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return value, nil
}
