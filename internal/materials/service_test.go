package materials_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
	"github.com/EgorKonstrukt/AutoPlasma/internal/store/memory"
)

type auditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type hookRecorder struct {
	events []materials.RegistryChangedEvent
}

func (h *hookRecorder) HandleRegistryChanged(_ context.Context, evt materials.RegistryChangedEvent) error {
	h.events = append(h.events, evt)
	return errors.New("ignored")
}

func newService(t *testing.T, cfg materials.ServiceConfig) (*materials.Service, *memory.Store, *auditRecorder, *hookRecorder) {
	t.Helper()
	store := memory.New()
	audit := &auditRecorder{}
	hook := &hookRecorder{}
	return materials.NewService(store.Materials(), audit, cfg, hook), store, audit, hook
}

var epoxy = materials.CreateInput{Name: "Epoxy-A", Density: 1.2, FlowFactor: 1.0, TargetGPM: 10.0, Actor: "admin"}

func TestAddSeedsStock(t *testing.T) {
	svc, store, audit, hook := newService(t, materials.ServiceConfig{})
	ctx := context.Background()

	m, err := svc.Add(ctx, epoxy)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, m.ID)
	require.Equal(t, "Epoxy-A", m.Name)
	require.Equal(t, 1.2, m.Density)

	entry, err := store.Ledger().GetStock(ctx, "Epoxy-A")
	require.NoError(t, err)
	require.Equal(t, 5000.0, entry.QuantityGrams)
	require.Equal(t, m.ID, entry.MaterialID)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "materials:add", audit.logs[0].Action)
	require.Equal(t, "admin", audit.logs[0].Actor)
	require.Equal(t, m.ID.String(), audit.logs[0].EntityID)
	require.Len(t, hook.events, 1)
	require.Equal(t, 5000.0, hook.events[0].QuantityGrams)
}

func TestAddDuplicateKeepsOriginal(t *testing.T) {
	svc, store, _, _ := newService(t, materials.ServiceConfig{})
	ctx := context.Background()

	first, err := svc.Add(ctx, epoxy)
	require.NoError(t, err)

	dup := epoxy
	dup.Density = 9
	_, err = svc.Add(ctx, dup)
	require.ErrorIs(t, err, materials.ErrDuplicateName)
	require.ErrorIs(t, err, shared.ErrDuplicate)

	// normalised names collide as well
	dup.Name = "  Epoxy-A "
	_, err = svc.Add(ctx, dup)
	require.ErrorIs(t, err, materials.ErrDuplicateName)

	got, err := svc.Get(ctx, "Epoxy-A")
	require.NoError(t, err)
	require.Equal(t, first, got)
	entry, err := store.Ledger().GetStock(ctx, "Epoxy-A")
	require.NoError(t, err)
	require.Equal(t, 5000.0, entry.QuantityGrams)
	events, err := store.Ledger().AllEvents(ctx)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestAddValidation(t *testing.T) {
	svc, _, _, _ := newService(t, materials.ServiceConfig{})
	ctx := context.Background()

	bad := []materials.CreateInput{
		{Name: "", Density: 1, FlowFactor: 1, TargetGPM: 1},
		{Name: "A", Density: 0, FlowFactor: 1, TargetGPM: 1},
		{Name: "A", Density: 1, FlowFactor: -1, TargetGPM: 1},
		{Name: "A", Density: 1, FlowFactor: 1, TargetGPM: 0},
		{Name: "a/b", Density: 1, FlowFactor: 1, TargetGPM: 1},
	}
	for _, in := range bad {
		_, err := svc.Add(ctx, in)
		require.ErrorIs(t, err, shared.ErrValidation, "%+v", in)
	}
	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestNormalizeNameComposesUnicode(t *testing.T) {
	decomposed := "Cu\u0301-blend"
	composed := "C\u00fa-blend"
	require.Equal(t, composed, materials.NormalizeName(" "+decomposed+" "))
}

func TestListOrderedByName(t *testing.T) {
	svc, _, _, _ := newService(t, materials.ServiceConfig{})
	ctx := context.Background()
	for _, name := range []string{"Zirconia", "Alumina", "Chrome"} {
		_, err := svc.Add(ctx, materials.CreateInput{Name: name, Density: 1, FlowFactor: 1, TargetGPM: 1})
		require.NoError(t, err)
	}
	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "Alumina", items[0].Name)
	require.Equal(t, "Chrome", items[1].Name)
	require.Equal(t, "Zirconia", items[2].Name)
}

func TestRemove(t *testing.T) {
	svc, store, audit, hook := newService(t, materials.ServiceConfig{})
	ctx := context.Background()
	_, err := svc.Add(ctx, epoxy)
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, "Epoxy-A", "admin"))
	_, err = svc.Get(ctx, "Epoxy-A")
	require.ErrorIs(t, err, materials.ErrNotFound)
	_, err = store.Ledger().GetStock(ctx, "Epoxy-A")
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.ErrorIs(t, svc.Remove(ctx, "Epoxy-A", "admin"), shared.ErrNotFound)
	require.Len(t, audit.logs, 2)
	require.Equal(t, "materials:remove", audit.logs[1].Action)
	require.Equal(t, 5000.0, audit.logs[1].Meta["discarded_grams"])
	require.True(t, hook.events[1].Removed)
}

func TestRemoveRequiresEmptyStockWhenConfigured(t *testing.T) {
	svc, _, _, _ := newService(t, materials.ServiceConfig{RequireEmptyStockOnDelete: true})
	ctx := context.Background()
	_, err := svc.Add(ctx, epoxy)
	require.NoError(t, err)

	err = svc.Remove(ctx, "Epoxy-A", "admin")
	require.ErrorIs(t, err, materials.ErrStockNotEmpty)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Get(ctx, "Epoxy-A")
	require.NoError(t, err)
}

func TestConcurrentAddSameNameCreatesOne(t *testing.T) {
	svc, store, _, _ := newService(t, materials.ServiceConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Add(ctx, epoxy)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, materials.ErrDuplicateName)
	}
	require.Equal(t, 1, ok)
	stock, err := store.Ledger().ListStock(ctx)
	require.NoError(t, err)
	require.Len(t, stock, 1)
}
