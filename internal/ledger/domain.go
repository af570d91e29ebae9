// Package ledger owns per-material stock quantities and the append-only usage log.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
)

// EventKind enumerates stock-affecting events.
type EventKind string

const (
	// EventKindAdjust is an administrative restock or correction.
	EventKindAdjust EventKind = "ADJUST"
	// EventKindConsume is a dosing run drawing material from stock.
	EventKindConsume EventKind = "CONSUME"
)

const (
	// DefaultAdjustOperator is recorded when an adjustment names no operator.
	DefaultAdjustOperator = "System"
	// DefaultConsumeOperator is recorded when a consumption names no operator.
	DefaultConsumeOperator = "Operator"
)

// StockEntry is the on-hand quantity of one material.
type StockEntry struct {
	MaterialID    uuid.UUID
	MaterialName  string
	QuantityGrams float64
	UpdatedAt     time.Time
}

// Event is one immutable usage log entry. SignedDeltaGrams follows the
// consumption-sign convention: positive means material left stock.
type Event struct {
	ID               int64
	OccurredAt       time.Time
	MaterialID       uuid.UUID
	MaterialName     string
	Kind             EventKind
	SignedDeltaGrams float64
	Operator         string
	Comment          string
	DurationSec      float64
}

// AdjustInput describes a signed stock change.
type AdjustInput struct {
	Name           string `validate:"required,max=128"`
	Delta          float64
	Operator       string `validate:"max=128"`
	Comment        string `validate:"max=1024"`
	IdempotencyKey string `validate:"max=128"`
}

// ConsumeInput describes a dosing run.
type ConsumeInput struct {
	Name           string  `validate:"required,max=128"`
	Grams          float64 `validate:"gt=0"`
	DurationSec    float64 `validate:"gt=0"`
	Operator       string  `validate:"max=128"`
	IdempotencyKey string  `validate:"max=128"`
}

// StockStatus flags how close a material is to running out.
type StockStatus string

const (
	StockStatusOK       StockStatus = "ok"
	StockStatusLow      StockStatus = "low"
	StockStatusCritical StockStatus = "critical"
)

// Thresholds bound the stock status bands in grams.
type Thresholds struct {
	Low      float64
	Critical float64
}

// DefaultThresholds match the operator station warning bands.
var DefaultThresholds = Thresholds{Low: 500, Critical: 50}

// Classify returns the status band of qty.
func (t Thresholds) Classify(qty float64) StockStatus {
	switch {
	case qty < t.Critical:
		return StockStatusCritical
	case qty < t.Low:
		return StockStatusLow
	default:
		return StockStatusOK
	}
}

// StockLevel is a stock entry with its status band.
type StockLevel struct {
	StockEntry
	Status StockStatus
}

// Discrepancy reports a material whose stored quantity does not match its replayed log.
type Discrepancy struct {
	MaterialID   uuid.UUID
	MaterialName string
	Recorded     float64
	Replayed     float64
	Events       int
}

var (
	// ErrMaterialNotFound indicates the material name has no stock entry.
	ErrMaterialNotFound = fmt.Errorf("ledger: material %w", shared.ErrNotFound)
	// ErrInvalidResult indicates an adjustment would leave stock negative.
	ErrInvalidResult = fmt.Errorf("ledger: %w", shared.ErrInvalidResult)
	// ErrInsufficientStock indicates consumption exceeds stock on hand.
	ErrInsufficientStock = fmt.Errorf("ledger: %w", shared.ErrInsufficientStock)
)

// ErrInvalidLimit indicates a malformed log limit.
var ErrInvalidLimit = fmt.Errorf("ledger: limit must be a non-negative integer: %w", shared.ErrValidation)
