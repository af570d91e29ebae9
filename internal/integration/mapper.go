package integration

import (
	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
)

func registryAction(evt materials.RegistryChangedEvent) string {
	if evt.Removed {
		return "remove"
	}
	return "add"
}

// statusTransition classifies the quantity before and after the posting.
// The log stores consumption-signed deltas, so the prior quantity is qty + delta.
func statusTransition(t ledger.Thresholds, evt ledger.StockMovedEvent) (prev, next ledger.StockStatus, changed bool) {
	before := evt.QuantityGrams + evt.SignedDeltaGrams
	prev = t.Classify(before)
	next = t.Classify(evt.QuantityGrams)
	return prev, next, prev != next
}

func severity(s ledger.StockStatus) int {
	switch s {
	case ledger.StockStatusCritical:
		return 2
	case ledger.StockStatusLow:
		return 1
	default:
		return 0
	}
}
