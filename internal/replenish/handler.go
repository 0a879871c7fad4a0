package replenish

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/apotek-pos/apotek/internal/platform/httpx"
)

// Handler exposes the replenishment API.
type Handler struct {
	generator *Generator
	service   *Service
	cache     *SummaryCache
	validate  *validator.Validate
	log       *slog.Logger
}

// NewHandler builds Handler. cache may be nil.
func NewHandler(generator *Generator, service *Service, cache *SummaryCache, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		generator: generator,
		service:   service,
		cache:     cache,
		validate:  validator.New(),
		log:       log,
	}
}

// Register mounts the replenishment endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/replenishment/{storeID}", func(r chi.Router) {
		r.Post("/generate", h.generate)
		r.Get("/suggestions", h.listSuggestions)
		r.Delete("/suggestions", h.clearSuggestions)
		r.Get("/summary", h.summary)
	})
	r.Route("/suggestions", func(r chi.Router) {
		r.Get("/{id}", h.getSuggestion)
		r.Patch("/{id}", h.updateSuggestion)
		r.Post("/reject", h.reject)
		r.Post("/approve", h.approve)
	})
}

type generateRequest struct {
	CoverageDays              int     `json:"coverage_days" validate:"omitempty,oneof=1 7 14 30 60 90"`
	ServiceLevel              float64 `json:"service_level" validate:"omitempty,min=0.5,max=0.999"`
	AnalysisPeriodDays        int     `json:"analysis_period_days" validate:"omitempty,min=7,max=365"`
	IncludeSupplierComparison *bool   `json:"include_supplier_comparison"`
	Workers                   int     `json:"workers" validate:"omitempty,min=1,max=64"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	req := GenerateRequest{
		StoreID:                   chi.URLParam(r, "storeID"),
		CoverageDays:              body.CoverageDays,
		ServiceLevel:              body.ServiceLevel,
		AnalysisPeriodDays:        body.AnalysisPeriodDays,
		IncludeSupplierComparison: body.IncludeSupplierComparison == nil || *body.IncludeSupplierComparison,
		Workers:                   body.Workers,
	}
	result, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Put(r.Context(), req.StoreID, result.Summary); err != nil {
			h.log.WarnContext(r.Context(), "summary cache write failed", "store", req.StoreID, "error", err)
		}
	}
	httpx.JSON(w, http.StatusOK, renderResult(result))
}

func (h *Handler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		StoreID: chi.URLParam(r, "storeID"),
		Status:  Status(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "product_id must be an integer")
			return
		}
		filter.ProductID = id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	suggestions, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]suggestionResponse, len(suggestions))
	for i, sug := range suggestions {
		out[i] = renderSuggestion(sug)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if h.cache != nil {
		summary, ok, err := h.cache.Get(r.Context(), storeID)
		if err != nil {
			h.log.WarnContext(r.Context(), "summary cache read failed", "store", storeID, "error", err)
		} else if ok {
			httpx.JSON(w, http.StatusOK, summary)
			return
		}
	}

	suggestions, err := h.service.List(r.Context(), Filter{StoreID: storeID, Status: StatusPending, Limit: 500})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	summary := summarize(suggestions)
	if h.cache != nil {
		_ = h.cache.Put(r.Context(), storeID, summary)
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) getSuggestion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "id must be an integer")
		return
	}
	sug, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, renderSuggestion(sug))
}

type updateRequest struct {
	OrderQty *int64  `json:"order_qty" validate:"omitempty,min=0"`
	ROP      *int64  `json:"rop" validate:"omitempty,min=0"`
	Note     *string `json:"note" validate:"omitempty,max=500"`
}

func (h *Handler) updateSuggestion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "id must be an integer")
		return
	}
	var body updateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	sug, err := h.service.UpdatePending(r.Context(), id, UpdatePendingInput{
		OrderQty: body.OrderQty,
		ROP:      body.ROP,
		Note:     body.Note,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, renderSuggestion(sug))
}

type idsRequest struct {
	IDs        []int64 `json:"ids" validate:"required,min=1,dive,min=1"`
	GeneratePO bool    `json:"generate_po"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var body idsRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rejected, err := h.service.Reject(r.Context(), body.IDs, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rejected": rejected})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var body idsRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	// Approval conflicts are transient when another reviewer raced the same
	// rows; retry a couple of times before surfacing the 409.
	var result ConvertResult
	var err error
	for attempt := 0; ; attempt++ {
		result, err = h.service.Approve(r.Context(), body.IDs, body.GeneratePO, actorID(r))
		if err == nil || !IsRetryable(err) || attempt == 2 {
			break
		}
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) clearSuggestions(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	deleted, err := h.service.Clear(r.Context(), storeID, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if h.cache != nil {
		_ = h.cache.Invalidate(r.Context(), storeID)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *ConcurrentModificationError
	switch {
	case errors.Is(err, ErrBadRequest):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	case errors.Is(err, ErrSuggestionNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrNoEligibleSuggestions), errors.As(err, &conflict):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
	case errors.Is(err, ErrDependencyUnavailable):
		h.log.ErrorContext(r.Context(), "replenishment dependency failed", "error", err)
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnavailable, err.Error()))
	default:
		h.log.ErrorContext(r.Context(), "replenishment request failed", "error", err)
		httpx.RespondError(w, err)
	}
}

// actorID reads the authenticated user id the gateway forwards. Zero when
// absent.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}

type suggestionResponse struct {
	ID               int64            `json:"id"`
	ProductID        int64            `json:"product_id"`
	SKU              string           `json:"sku"`
	StoreID          string           `json:"store_id"`
	SupplierID       int64            `json:"supplier_id,omitempty"`
	SupplierName     string           `json:"supplier_name,omitempty"`
	ROP              int64            `json:"rop"`
	OrderQty         int64            `json:"order_qty"`
	CurrentStock     int64            `json:"current_stock"`
	DaysRemaining    float64          `json:"days_remaining"`
	Urgency          string           `json:"urgency"`
	Status           Status           `json:"status"`
	NextDeliveryDate *time.Time       `json:"next_delivery_date,omitempty"`
	Scenarios        []Scenario       `json:"coverage_scenarios"`
	SupplierOptions  []SupplierOption `json:"supplier_options"`
	Reason           Reason           `json:"recommendation"`
	Note             string           `json:"note,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

type resultResponse struct {
	Suggestions []suggestionResponse `json:"suggestions"`
	Summary     Summary              `json:"summary"`
}

func renderResult(result Result) resultResponse {
	out := resultResponse{
		Suggestions: make([]suggestionResponse, len(result.Suggestions)),
		Summary:     result.Summary,
	}
	for i, sug := range result.Suggestions {
		out.Suggestions[i] = renderSuggestion(sug)
	}
	return out
}

func renderSuggestion(sug Suggestion) suggestionResponse {
	return suggestionResponse{
		ID:               sug.ID,
		ProductID:        sug.ProductID,
		SKU:              sug.SKU,
		StoreID:          sug.StoreID,
		SupplierID:       sug.SupplierID,
		SupplierName:     sug.SupplierName,
		ROP:              sug.ROP,
		OrderQty:         sug.OrderQty,
		CurrentStock:     sug.CurrentStock,
		DaysRemaining:    sug.DaysRemaining,
		Urgency:          externalUrgency(sug.Urgency),
		Status:           sug.Status,
		NextDeliveryDate: sug.NextDeliveryDate,
		Scenarios:        sug.Scenarios,
		SupplierOptions:  sug.SupplierOptions,
		Reason:           sug.Reason,
		Note:             sug.Note,
		CreatedAt:        sug.CreatedAt,
	}
}

// externalUrgency maps the internal LOW bucket to the label the clients
// historically expect.
func externalUrgency(u Urgency) string {
	if u == UrgencyLow {
		return "WARNING"
	}
	return string(u)
}
