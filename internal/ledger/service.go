package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListStock(ctx context.Context) ([]StockEntry, error)
	GetStock(ctx context.Context, name string) (StockEntry, error)
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
	EventsForMaterial(ctx context.Context, materialID uuid.UUID) ([]Event, error)
	AllEvents(ctx context.Context) ([]Event, error)
	ReadSnapshot(ctx context.Context) ([]StockEntry, []Event, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Thresholds   Thresholds
	DefaultLimit int
	MaxLimit     int
	Logger       *slog.Logger
}

// Service coordinates stock mutations and log reads.
type Service struct {
	repo         RepositoryPort
	idempotency  *shared.IdempotencyStore
	integration  IntegrationHandler
	thresholds   Thresholds
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger
	clock        func() time.Time
}

// NewService builds Service. idem and integration may be nil.
func NewService(repo RepositoryPort, idem *shared.IdempotencyStore, cfg ServiceConfig, integration IntegrationHandler) *Service {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = max(cfg.DefaultLimit, 1000)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		idempotency:  idem,
		integration:  integration,
		thresholds:   cfg.Thresholds,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		logger:       logger,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// Thresholds returns the configured stock status bands.
func (s *Service) Thresholds() Thresholds {
	return s.thresholds
}

// Adjust applies a signed stock change and logs the negated delta.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (float64, error) {
	if err := shared.RequireFinite("delta", in.Delta); err != nil {
		return 0, err
	}
	in.Name = materials.NormalizeName(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return 0, err
	}
	if in.Operator == "" {
		in.Operator = DefaultAdjustOperator
	}
	delta := decimal.NewFromFloat(in.Delta)
	evt, err := s.post(ctx, posting{
		name:     in.Name,
		kind:     EventKindAdjust,
		key:      in.IdempotencyKey,
		operator: in.Operator,
		comment:  in.Comment,
		apply: func(current decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
			next := current.Add(delta)
			if next.IsNegative() {
				return decimal.Zero, decimal.Zero, ErrInvalidResult
			}
			return next, delta.Neg(), nil
		},
	})
	if err != nil {
		return 0, err
	}
	return evt.QuantityGrams, nil
}

// Consume draws grams from stock for a dosing run. Partial consumption is never applied.
func (s *Service) Consume(ctx context.Context, in ConsumeInput) (float64, error) {
	if err := shared.RequireFinite("grams", in.Grams); err != nil {
		return 0, err
	}
	if err := shared.RequireFinite("duration_sec", in.DurationSec); err != nil {
		return 0, err
	}
	in.Name = materials.NormalizeName(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return 0, err
	}
	if in.Operator == "" {
		in.Operator = DefaultConsumeOperator
	}
	grams := decimal.NewFromFloat(in.Grams)
	evt, err := s.post(ctx, posting{
		name:     in.Name,
		kind:     EventKindConsume,
		key:      in.IdempotencyKey,
		operator: in.Operator,
		duration: in.DurationSec,
		apply: func(current decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
			if current.LessThan(grams) {
				return decimal.Zero, decimal.Zero, ErrInsufficientStock
			}
			return current.Sub(grams), grams, nil
		},
	})
	if err != nil {
		return 0, err
	}
	return evt.QuantityGrams, nil
}

// Current returns the on-hand quantity, or 0 when the material has no stock entry.
func (s *Service) Current(ctx context.Context, name string) (float64, error) {
	entry, err := s.Stock(ctx, name)
	if err != nil {
		if errors.Is(err, ErrMaterialNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return entry.QuantityGrams, nil
}

// Stock returns the stock entry of one material.
func (s *Service) Stock(ctx context.Context, name string) (StockEntry, error) {
	name = materials.NormalizeName(name)
	if name == "" {
		return StockEntry{}, ErrMaterialNotFound
	}
	return s.repo.GetStock(ctx, name)
}

// ListStock returns every stock entry ordered by material name.
func (s *Service) ListStock(ctx context.Context) ([]StockEntry, error) {
	items, err := s.repo.ListStock(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []StockEntry{}
	}
	return items, nil
}

// StockLevels returns every stock entry with its status band.
func (s *Service) StockLevels(ctx context.Context) ([]StockLevel, error) {
	items, err := s.ListStock(ctx)
	if err != nil {
		return nil, err
	}
	levels := make([]StockLevel, 0, len(items))
	for _, e := range items {
		levels = append(levels, StockLevel{StockEntry: e, Status: s.thresholds.Classify(e.QuantityGrams)})
	}
	return levels, nil
}

// Recent returns up to limit log entries, newest first. Zero selects the
// default limit; values above the maximum are capped.
func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	events, err := s.repo.RecentEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// EventsFor returns the log of one material, oldest first.
func (s *Service) EventsFor(ctx context.Context, materialID uuid.UUID) ([]Event, error) {
	return s.repo.EventsForMaterial(ctx, materialID)
}

// AllEvents returns the full log, oldest first.
func (s *Service) AllEvents(ctx context.Context) ([]Event, error) {
	return s.repo.AllEvents(ctx)
}

// Reconcile replays each material's log from the seed quantity and reports
// materials whose stored quantity differs from the replay. Stock and log are
// read from one snapshot so postings committed meanwhile are never half seen.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	stock, events, err := s.repo.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	sums := make(map[uuid.UUID]decimal.Decimal, len(stock))
	counts := make(map[uuid.UUID]int, len(stock))
	for _, e := range events {
		sums[e.MaterialID] = sums[e.MaterialID].Add(decimal.NewFromFloat(e.SignedDeltaGrams))
		counts[e.MaterialID]++
	}
	seed := decimal.NewFromFloat(materials.SeedQuantityGrams)
	var out []Discrepancy
	for _, entry := range stock {
		replayed := seed.Sub(sums[entry.MaterialID]).Round(replayPrecision)
		recorded := decimal.NewFromFloat(entry.QuantityGrams).Round(replayPrecision)
		if replayed.Equal(recorded) {
			continue
		}
		r, _ := replayed.Float64()
		out = append(out, Discrepancy{
			MaterialID:   entry.MaterialID,
			MaterialName: entry.MaterialName,
			Recorded:     entry.QuantityGrams,
			Replayed:     r,
			Events:       counts[entry.MaterialID],
		})
	}
	return out, nil
}

// replayPrecision is the decimal places compared by Reconcile (micrograms).
const replayPrecision = 6

type posting struct {
	name     string
	kind     EventKind
	key      string
	operator string
	comment  string
	duration float64
	// apply returns the new quantity and the logged signed delta.
	apply func(current decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
}

func (s *Service) post(ctx context.Context, p posting) (StockMovedEvent, error) {
	claimed := false
	if s.idempotency != nil && p.key != "" {
		if err := s.idempotency.CheckAndInsert(ctx, p.key, "ledger"); err != nil {
			return StockMovedEvent{}, err
		}
		claimed = true
	}

	var moved StockMovedEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetStockForUpdate(ctx, p.name)
		if err != nil {
			return err
		}
		next, logged, err := p.apply(decimal.NewFromFloat(entry.QuantityGrams))
		if err != nil {
			return err
		}
		qty, _ := next.Float64()
		delta, _ := logged.Float64()
		now := s.clock()
		if err := tx.UpdateStock(ctx, entry.MaterialID, qty, now); err != nil {
			return err
		}
		id, err := tx.AppendEvent(ctx, Event{
			OccurredAt:       now,
			MaterialID:       entry.MaterialID,
			MaterialName:     entry.MaterialName,
			Kind:             p.kind,
			SignedDeltaGrams: delta,
			Operator:         p.operator,
			Comment:          p.comment,
			DurationSec:      p.duration,
		})
		if err != nil {
			return err
		}
		moved = StockMovedEvent{
			EventID:          id,
			MaterialID:       entry.MaterialID,
			MaterialName:     entry.MaterialName,
			Kind:             p.kind,
			SignedDeltaGrams: delta,
			QuantityGrams:    qty,
			DurationSec:      p.duration,
			Operator:         p.operator,
			OccurredAt:       now,
		}
		return nil
	})
	if err != nil {
		if claimed {
			if derr := s.idempotency.Delete(ctx, p.key, "ledger"); derr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", p.key), slog.Any("error", derr))
			}
		}
		return StockMovedEvent{}, err
	}

	s.logger.Info("stock posted",
		slog.String("material", moved.MaterialName),
		slog.String("kind", string(moved.Kind)),
		slog.Float64("signed_delta_grams", moved.SignedDeltaGrams),
		slog.Float64("quantity_grams", moved.QuantityGrams),
		slog.String("operator", moved.Operator),
		slog.Int64("event_id", moved.EventID))

	if s.integration != nil {
		if err := s.integration.HandleStockMoved(ctx, moved); err != nil {
			s.logger.Warn("ledger integration hook failed", slog.String("material", moved.MaterialName), slog.Any("error", err))
		}
	}
	return moved, nil
}
