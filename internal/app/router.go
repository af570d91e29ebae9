package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
	"github.com/EgorKonstrukt/AutoPlasma/internal/observability"
	"github.com/EgorKonstrukt/AutoPlasma/internal/reports"
	"github.com/EgorKonstrukt/AutoPlasma/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	MaterialsHandler *materials.Handler
	LedgerHandler    *ledger.Handler
	ReportsHandler   *reports.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with AutoPlasma defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/powders", params.MaterialsHandler.MountRoutes)
	r.Route("/inventory", params.LedgerHandler.MountInventory)
	params.LedgerHandler.MountRoutes(r)
	if params.ReportsHandler != nil {
		r.Route("/stats", params.ReportsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
