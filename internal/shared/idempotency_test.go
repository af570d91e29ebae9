package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestIdempotencyStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(client, time.Hour), mr
}

func TestIdempotencyRejectsReplay(t *testing.T) {
	store, _ := newTestIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "req-1", "ledger"))
	err := store.CheckAndInsert(ctx, "req-1", "ledger")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrConflict)

	// same key in another module is independent
	require.NoError(t, store.CheckAndInsert(ctx, "req-1", "registry"))
}

func TestIdempotencyDeleteReleasesKey(t *testing.T) {
	store, _ := newTestIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "req-2", "ledger"))
	require.NoError(t, store.Delete(ctx, "req-2", "ledger"))
	require.NoError(t, store.CheckAndInsert(ctx, "req-2", "ledger"))
}

func TestIdempotencyKeyExpires(t *testing.T) {
	store, mr := newTestIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "req-3", "ledger"))
	mr.FastForward(2 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "req-3", "ledger"))
}

func TestIdempotencyValidation(t *testing.T) {
	store, _ := newTestIdempotencyStore(t)
	ctx := context.Background()

	require.Error(t, store.CheckAndInsert(ctx, "", "ledger"))
	require.Error(t, store.CheckAndInsert(ctx, "k", ""))

	var nilStore *IdempotencyStore
	require.Error(t, nilStore.CheckAndInsert(ctx, "k", "ledger"))
	require.NoError(t, nilStore.Delete(ctx, "k", "ledger"))
}

func TestStorageFailureWrapsBothErrors(t *testing.T) {
	driverErr := context.DeadlineExceeded
	err := StorageFailure("commit", driverErr)
	require.ErrorIs(t, err, ErrStorageFailure)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, err, StorageFailure("outer", err))
	require.NoError(t, StorageFailure("noop", nil))
}
