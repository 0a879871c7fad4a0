package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/apotek-pos/apotek/internal/ledger"
	"github.com/apotek-pos/apotek/internal/pos"
	"github.com/apotek-pos/apotek/internal/receiving"
	"github.com/apotek-pos/apotek/internal/replenish"
	"github.com/apotek-pos/apotek/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	ReplenishHandler *replenish.Handler
	InventoryHandler *ledger.Handler
	SalesHandler     *pos.Handler
	ReceivingHandler *receiving.Handler
	JobsHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with the apotek defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(params.Config) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v3", func(api chi.Router) {
		params.ReplenishHandler.Register(api)
		params.InventoryHandler.Register(api)
		params.SalesHandler.Register(api)
		params.ReceivingHandler.Register(api)
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	return r
}
