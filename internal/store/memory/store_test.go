package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorKonstrukt/AutoPlasma/internal/ledger"
	"github.com/EgorKonstrukt/AutoPlasma/internal/materials"
	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
)

func seedMaterial(t *testing.T, s *Store, name string) materials.Material {
	t.Helper()
	m := materials.Material{ID: uuid.New(), Name: name, Density: 1, FlowFactor: 1, TargetGPM: 1, CreatedAt: time.Now().UTC()}
	err := s.Materials().WithTx(context.Background(), func(ctx context.Context, tx materials.TxRepository) error {
		return tx.Insert(ctx, m, materials.SeedQuantityGrams)
	})
	require.NoError(t, err)
	return m
}

func TestInsertCommitsMaterialAndStock(t *testing.T) {
	s := New()
	m := seedMaterial(t, s, "Epoxy-A")

	got, err := s.Materials().GetByName(context.Background(), "Epoxy-A")
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)

	entry, err := s.Ledger().GetStock(context.Background(), "Epoxy-A")
	require.NoError(t, err)
	require.Equal(t, materials.SeedQuantityGrams, entry.QuantityGrams)
}

func TestDuplicateInsertRejected(t *testing.T) {
	s := New()
	seedMaterial(t, s, "Epoxy-A")
	err := s.Materials().WithTx(context.Background(), func(ctx context.Context, tx materials.TxRepository) error {
		return tx.Insert(ctx, materials.Material{ID: uuid.New(), Name: "Epoxy-A"}, 1)
	})
	require.ErrorIs(t, err, materials.ErrDuplicateName)

	items, err := s.Materials().List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	s := New()
	m := seedMaterial(t, s, "Epoxy-A")

	boom := errors.New("disk full")
	s.SetFault(func(op string) error {
		if op == "append event" {
			return boom
		}
		return nil
	})
	err := s.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		entry, err := tx.GetStockForUpdate(ctx, "Epoxy-A")
		if err != nil {
			return err
		}
		if err := tx.UpdateStock(ctx, entry.MaterialID, 1, time.Now()); err != nil {
			return err
		}
		_, err = tx.AppendEvent(ctx, ledger.Event{MaterialID: entry.MaterialID})
		return err
	})
	require.ErrorIs(t, err, shared.ErrStorageFailure)
	require.ErrorIs(t, err, boom)
	s.SetFault(nil)

	entry, err := s.Ledger().GetStock(context.Background(), "Epoxy-A")
	require.NoError(t, err)
	require.Equal(t, materials.SeedQuantityGrams, entry.QuantityGrams)
	events, err := s.Ledger().EventsForMaterial(context.Background(), m.ID)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestCommitFaultDiscardsStagedWrites(t *testing.T) {
	s := New()
	s.SetFault(func(op string) error {
		if op == "commit" {
			return errors.New("fsync")
		}
		return nil
	})
	err := s.Materials().WithTx(context.Background(), func(ctx context.Context, tx materials.TxRepository) error {
		return tx.Insert(ctx, materials.Material{ID: uuid.New(), Name: "Ghost"}, 5000)
	})
	require.ErrorIs(t, err, shared.ErrStorageFailure)
	s.SetFault(nil)

	_, err = s.Materials().GetByName(context.Background(), "Ghost")
	require.ErrorIs(t, err, materials.ErrNotFound)
}

func TestDeleteKeepsEvents(t *testing.T) {
	s := New()
	m := seedMaterial(t, s, "Epoxy-A")
	ctx := context.Background()

	require.NoError(t, s.Ledger().WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.AppendEvent(ctx, ledger.Event{MaterialID: m.ID, MaterialName: m.Name, Kind: ledger.EventKindConsume, SignedDeltaGrams: 10})
		return err
	}))
	require.NoError(t, s.Materials().WithTx(ctx, func(ctx context.Context, tx materials.TxRepository) error {
		got, _, err := tx.LockByName(ctx, "Epoxy-A")
		if err != nil {
			return err
		}
		return tx.Delete(ctx, got.ID)
	}))

	_, err := s.Ledger().GetStock(ctx, "Epoxy-A")
	require.ErrorIs(t, err, ledger.ErrMaterialNotFound)
	events, err := s.Ledger().AllEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Epoxy-A", events[0].MaterialName)
}

func TestKeyedLockSerializesSameMaterial(t *testing.T) {
	s := New()
	seedMaterial(t, s, "Epoxy-A")
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Ledger().WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
				entry, err := tx.GetStockForUpdate(ctx, "Epoxy-A")
				if err != nil {
					return err
				}
				return tx.UpdateStock(ctx, entry.MaterialID, entry.QuantityGrams-1, time.Now())
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entry, err := s.Ledger().GetStock(ctx, "Epoxy-A")
	require.NoError(t, err)
	require.Equal(t, materials.SeedQuantityGrams-workers, entry.QuantityGrams)
}

func TestKeyedLockHonoursContext(t *testing.T) {
	k := newKeyedMutex()
	require.NoError(t, k.Lock(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, k.Lock(ctx, "a"), context.DeadlineExceeded)

	// other keys are independent
	require.NoError(t, k.Lock(context.Background(), "b"))
	k.Unlock("b")
	k.Unlock("a")
	require.Empty(t, k.locks)
}

func TestRecentEventsNewestFirst(t *testing.T) {
	s := New()
	m := seedMaterial(t, s, "Epoxy-A")
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Ledger().WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			_, err := tx.AppendEvent(ctx, ledger.Event{OccurredAt: at, MaterialID: m.ID, SignedDeltaGrams: float64(i)})
			return err
		}))
	}
	events, err := s.Ledger().RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, 4.0, events[0].SignedDeltaGrams)
	require.Equal(t, 2.0, events[2].SignedDeltaGrams)
}
