package integration

import (
	"context"
	"errors"
	"log/slog"

	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
)

// StockObserver receives committed stock movements and registry changes.
type StockObserver interface {
	ObservePosting(kind, material string, signedDelta, quantity float64)
	SetStock(material string, quantity float64)
	ForgetStock(material string)
	ObserveRegistryChange(action string)
}

// Hooks wires domain events from the registry and the ledger into metrics and alert logs.
type Hooks struct {
	observer   StockObserver
	thresholds ledger.Thresholds
	logger     *slog.Logger
}

// NewHooks constructs integration hooks.
func NewHooks(observer StockObserver, thresholds ledger.Thresholds, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{observer: observer, thresholds: thresholds, logger: logger}
}

// HandleStockMoved publishes the new quantity and warns when the material
// drops into a lower stock status.
func (h *Hooks) HandleStockMoved(ctx context.Context, evt ledger.StockMovedEvent) error {
	if evt.MaterialName == "" {
		return errors.New("integration: material name required")
	}
	if h.observer != nil {
		h.observer.ObservePosting(string(evt.Kind), evt.MaterialName, evt.SignedDeltaGrams, evt.QuantityGrams)
	}
	prev, next, changed := statusTransition(h.thresholds, evt)
	if changed && severity(next) > severity(prev) {
		h.logger.WarnContext(ctx, "stock level dropped",
			slog.String("material", evt.MaterialName),
			slog.String("from", string(prev)),
			slog.String("to", string(next)),
			slog.Float64("quantity_grams", evt.QuantityGrams),
			slog.String("operator", evt.Operator),
		)
	}
	return nil
}

// HandleRegistryChanged keeps the per-material gauges in step with the registry.
func (h *Hooks) HandleRegistryChanged(_ context.Context, evt materials.RegistryChangedEvent) error {
	if evt.Name == "" {
		return errors.New("integration: material name required")
	}
	if h.observer == nil {
		return nil
	}
	h.observer.ObserveRegistryChange(registryAction(evt))
	if evt.Removed {
		h.observer.ForgetStock(evt.Name)
		return nil
	}
	h.observer.SetStock(evt.Name, evt.QuantityGrams)
	return nil
}

var (
	_ ledger.IntegrationHandler    = (*Hooks)(nil)
	_ materials.IntegrationHandler = (*Hooks)(nil)
)
