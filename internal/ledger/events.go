package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StockMovedEvent is published after a ledger posting commits.
type StockMovedEvent struct {
	EventID          int64
	MaterialID       uuid.UUID
	MaterialName     string
	Kind             EventKind
	SignedDeltaGrams float64
	QuantityGrams    float64
	DurationSec      float64
	Operator         string
	OccurredAt       time.Time
}

// IntegrationHandler receives ledger events after commit.
type IntegrationHandler interface {
	HandleStockMoved(ctx context.Context, evt StockMovedEvent) error
}
