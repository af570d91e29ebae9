package materials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context) ([]Material, error)
	GetByName(ctx context.Context, name string) (Material, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// RequireEmptyStockOnDelete refuses Remove while stock is above zero.
	RequireEmptyStockOnDelete bool
	Logger                    *slog.Logger
}

// Service coordinates registry operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	requireZero bool
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService builds Service. audit and integration may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig, integration IntegrationHandler) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		integration: integration,
		requireZero: cfg.RequireEmptyStockOnDelete,
		logger:      logger,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// Add registers a material and seeds its stock in one transaction.
func (s *Service) Add(ctx context.Context, input CreateInput) (Material, error) {
	m, err := NewMaterial(input, s.clock())
	if err != nil {
		return Material{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, m, SeedQuantityGrams)
	})
	if err != nil {
		return Material{}, err
	}
	s.logger.Info("material registered",
		slog.String("material", m.Name),
		slog.String("material_id", m.ID.String()),
		slog.Float64("seed_grams", SeedQuantityGrams))
	s.record(ctx, input.Actor, "materials:add", m, map[string]any{
		"density":     m.Density,
		"flow_factor": m.FlowFactor,
		"target_gpm":  m.TargetGPM,
		"seed_grams":  SeedQuantityGrams,
	})
	s.notify(ctx, RegistryChangedEvent{MaterialID: m.ID, Name: m.Name, QuantityGrams: SeedQuantityGrams})
	return m, nil
}

// List returns every registered material.
func (s *Service) List(ctx context.Context) ([]Material, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Material{}
	}
	return items, nil
}

// Get returns a material by name.
func (s *Service) Get(ctx context.Context, name string) (Material, error) {
	name = NormalizeName(name)
	if name == "" {
		return Material{}, ErrNotFound
	}
	return s.repo.GetByName(ctx, name)
}

// Remove deletes a material and its stock entry. Usage log entries are kept.
func (s *Service) Remove(ctx context.Context, name, actor string) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrNotFound
	}
	var removed Material
	var remaining float64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, qty, err := tx.LockByName(ctx, name)
		if err != nil {
			return err
		}
		if s.requireZero && qty > 0 {
			return fmt.Errorf("%w (%.4f g on hand)", ErrStockNotEmpty, qty)
		}
		removed, remaining = m, qty
		return tx.Delete(ctx, m.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("material removed",
		slog.String("material", removed.Name),
		slog.String("material_id", removed.ID.String()),
		slog.Float64("discarded_grams", remaining))
	s.record(ctx, actor, "materials:remove", removed, map[string]any{"discarded_grams": remaining})
	s.notify(ctx, RegistryChangedEvent{MaterialID: removed.ID, Name: removed.Name, Removed: true})
	return nil
}

func (s *Service) record(ctx context.Context, actor, action string, m Material, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["name"] = m.Name
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "material",
		EntityID: m.ID.String(),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context, evt RegistryChangedEvent) {
	if s.integration == nil {
		return
	}
	if err := s.integration.HandleRegistryChanged(ctx, evt); err != nil {
		s.logger.Warn("registry integration hook failed", slog.String("material", evt.Name), slog.Any("error", err))
	}
}
