package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/EgorKonstrukt/AutoPlasma/internal/platform/httpx"
)

// IdempotencyHeader carries a client-chosen key that makes a posting safe to retry.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for stock and the usage log.
type Handler struct {
	logger  *slog.Logger
	service *Service
	admin   func(http.Handler) http.Handler
}

// NewHandler constructs the ledger handler. admin guards stock adjustment and may be nil.
func NewHandler(logger *slog.Logger, service *Service, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, admin: admin}
}

// MountInventory registers stock routes under /inventory.
func (h *Handler) MountInventory(r chi.Router) {
	r.Get("/", h.handleListStock)
	r.Get("/levels", h.handleStockLevels)
	r.Get("/{name}", h.handleGetStock)
	r.Group(func(r chi.Router) {
		if h.admin != nil {
			r.Use(h.admin)
		}
		r.Post("/adjust", h.handleAdjust)
	})
}

// MountRoutes registers consumption and log routes at the root.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/log_usage", h.handleConsume)
	r.Get("/logs", h.handleRecent)
}

type stockResponse struct {
	ID            uuid.UUID `json:"id"`
	PowderID      uuid.UUID `json:"powder_id"`
	PowderName    string    `json:"powder_name"`
	QuantityGrams float64   `json:"quantity_grams"`
}

type stockLevelResponse struct {
	PowderID      uuid.UUID   `json:"powder_id"`
	PowderName    string      `json:"powder_name"`
	QuantityGrams float64     `json:"quantity_grams"`
	Status        StockStatus `json:"status"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type eventResponse struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	PowderID      uuid.UUID `json:"powder_id"`
	PowderName    string    `json:"powder_name"`
	Kind          EventKind `json:"kind"`
	ConsumedGrams float64   `json:"consumed_grams"`
	Operator      string    `json:"operator"`
	Comment       string    `json:"comment"`
	DurationSec   float64   `json:"duration_sec"`
}

type adjustRequest struct {
	PowderName     string  `json:"powder_name"`
	QuantityChange float64 `json:"quantity_change"`
	Operator       string  `json:"operator"`
	Comment        string  `json:"comment"`
}

type consumeRequest struct {
	PowderName    string  `json:"powder_name"`
	ConsumedGrams float64 `json:"consumed_grams"`
	DurationSec   float64 `json:"duration_sec"`
	Operator      string  `json:"operator"`
}

func toStockResponse(e StockEntry) stockResponse {
	return stockResponse{ID: e.MaterialID, PowderID: e.MaterialID, PowderName: e.MaterialName, QuantityGrams: e.QuantityGrams}
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListStock(r.Context())
	if err != nil {
		h.logger.Error("list stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]stockResponse, 0, len(items))
	for _, e := range items {
		out = append(out, toStockResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleStockLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.StockLevels(r.Context())
	if err != nil {
		h.logger.Error("stock levels", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]stockLevelResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, stockLevelResponse{
			PowderID:      l.MaterialID,
			PowderName:    l.MaterialName,
			QuantityGrams: l.QuantityGrams,
			Status:        l.Status,
			UpdatedAt:     l.UpdatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Stock(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toStockResponse(entry))
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := h.service.Adjust(r.Context(), AdjustInput{
		Name:           req.PowderName,
		Delta:          req.QuantityChange,
		Operator:       req.Operator,
		Comment:        req.Comment,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.logger.Warn("adjust stock failed", slog.String("material", req.PowderName), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"new_quantity": qty,
		"powder_name":  req.PowderName,
	})
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	remaining, err := h.service.Consume(r.Context(), ConsumeInput{
		Name:           req.PowderName,
		Grams:          req.ConsumedGrams,
		DurationSec:    req.DurationSec,
		Operator:       req.Operator,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.logger.Warn("log usage failed", slog.String("material", req.PowderName), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "success", "remaining": remaining})
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, ErrInvalidLimit)
			return
		}
		limit = n
	}
	events, err := h.service.Recent(r.Context(), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:            e.ID,
			Timestamp:     e.OccurredAt,
			PowderID:      e.MaterialID,
			PowderName:    e.MaterialName,
			Kind:          e.Kind,
			ConsumedGrams: e.SignedDeltaGrams,
			Operator:      e.Operator,
			Comment:       e.Comment,
			DurationSec:   e.DurationSec,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}
