// Package reports aggregates the usage log into per-material consumption figures.
// It only reads.
package reports

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
)

// EventSource supplies the full usage log.
type EventSource interface {
	AllEvents(ctx context.Context) ([]ledger.Event, error)
}

// MaterialUsage breaks down the logged movements of one material name.
type MaterialUsage struct {
	Name           string  `json:"powder_name"`
	ConsumedGrams  float64 `json:"consumed_grams"`
	RestockedGrams float64 `json:"restocked_grams"`
	CorrectedGrams float64 `json:"corrected_grams"`
	NetGrams       float64 `json:"net_grams"`
	DosingSeconds  float64 `json:"dosing_seconds"`
	Events         int     `json:"events"`
}

// Service recomputes every figure from the log on each call.
type Service struct {
	events EventSource
}

// NewService constructs Service.
func NewService(events EventSource) *Service {
	return &Service{events: events}
}

// Summary returns the signed total per material name: consumption minus restock.
func (s *Service) Summary(ctx context.Context) (map[string]float64, error) {
	events, err := s.events.AllEvents(ctx)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]decimal.Decimal)
	for _, e := range events {
		totals[e.MaterialName] = totals[e.MaterialName].Add(decimal.NewFromFloat(e.SignedDeltaGrams))
	}
	out := make(map[string]float64, len(totals))
	for name, total := range totals {
		out[name] = total.InexactFloat64()
	}
	return out, nil
}

type usageAcc struct {
	consumed, restocked, corrected, net, seconds decimal.Decimal
	events                                       int
}

// Usage returns a per-name breakdown ordered by name.
func (s *Service) Usage(ctx context.Context) ([]MaterialUsage, error) {
	events, err := s.events.AllEvents(ctx)
	if err != nil {
		return nil, err
	}
	acc := make(map[string]*usageAcc)
	for _, e := range events {
		a, ok := acc[e.MaterialName]
		if !ok {
			a = &usageAcc{}
			acc[e.MaterialName] = a
		}
		delta := decimal.NewFromFloat(e.SignedDeltaGrams)
		a.net = a.net.Add(delta)
		a.events++
		switch {
		case e.Kind == ledger.EventKindConsume:
			a.consumed = a.consumed.Add(delta)
			a.seconds = a.seconds.Add(decimal.NewFromFloat(e.DurationSec))
		case delta.IsNegative():
			a.restocked = a.restocked.Add(delta.Neg())
		default:
			a.corrected = a.corrected.Add(delta)
		}
	}
	out := make([]MaterialUsage, 0, len(acc))
	for name, a := range acc {
		out = append(out, MaterialUsage{
			Name:           name,
			ConsumedGrams:  a.consumed.InexactFloat64(),
			RestockedGrams: a.restocked.InexactFloat64(),
			CorrectedGrams: a.corrected.InexactFloat64(),
			NetGrams:       a.net.InexactFloat64(),
			DosingSeconds:  a.seconds.InexactFloat64(),
			Events:         a.events,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
