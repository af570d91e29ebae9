package materials

import (
	"context"

	"github.com/google/uuid"
)

// RegistryChangedEvent is published after a registry mutation commits.
type RegistryChangedEvent struct {
	MaterialID    uuid.UUID
	Name          string
	Removed       bool
	QuantityGrams float64
}

// IntegrationHandler receives registry events after commit.
type IntegrationHandler interface {
	HandleRegistryChanged(ctx context.Context, evt RegistryChangedEvent) error
}
