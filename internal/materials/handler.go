package materials

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/EgorKonstrukt/AutoPlasma/internal/platform/httpx"
)

// OperatorHeader carries the caller identity recorded in audit logs.
const OperatorHeader = "X-Operator"

// Handler wires HTTP endpoints for the material registry.
type Handler struct {
	logger  *slog.Logger
	service *Service
	admin   func(http.Handler) http.Handler
}

// NewHandler constructs the registry handler. admin guards mutating routes and may be nil.
func NewHandler(logger *slog.Logger, service *Service, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, admin: admin}
}

// MountRoutes registers registry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{name}", h.handleGet)
	r.Group(func(r chi.Router) {
		if h.admin != nil {
			r.Use(h.admin)
		}
		r.Post("/", h.handleCreate)
		r.Delete("/{name}", h.handleDelete)
	})
}

type createRequest struct {
	Name       string  `json:"name"`
	Density    float64 `json:"density"`
	FlowFactor float64 `json:"flow_factor"`
	TargetGPM  float64 `json:"target_gpm"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list materials", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.Add(r.Context(), CreateInput{
		Name:       req.Name,
		Density:    req.Density,
		FlowFactor: req.FlowFactor,
		TargetGPM:  req.TargetGPM,
		Actor:      r.Header.Get(OperatorHeader),
	})
	if err != nil {
		h.logger.Warn("create material failed", slog.String("name", req.Name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.Remove(r.Context(), name, r.Header.Get(OperatorHeader)); err != nil {
		h.logger.Warn("delete material failed", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
