package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/groupspend/groupspend/internal/shared"
)

func TestIdempotencyClaimAndRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewIdempotencyStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Claim(ctx, "receipts:alice", "k1"))
	err := store.Claim(ctx, "receipts:alice", "k1")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, store.Claim(ctx, "receipts:bob", "k1"), "scopes are independent")

	require.NoError(t, store.Release(ctx, "receipts:alice", "k1"))
	require.NoError(t, store.Claim(ctx, "receipts:alice", "k1"))

	mr.FastForward(2 * time.Hour)
	require.NoError(t, store.Claim(ctx, "receipts:alice", "k1"), "claims expire after retention")

	require.Error(t, store.Claim(ctx, "receipts:alice", ""))
}

func TestNilIdempotencyStoreAcceptsEverything(t *testing.T) {
	var store *IdempotencyStore
	require.NoError(t, store.Claim(context.Background(), "s", "k"))
	require.NoError(t, store.Claim(context.Background(), "s", "k"))
	require.NoError(t, store.Release(context.Background(), "s", "k"))
}
