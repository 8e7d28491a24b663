package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreSetGet(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestMemStoreGetMissingReturnsNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreExpiryTreatsKeyAsAbsent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreSetNXOnlySucceedsOnce(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	first, err := store.SetNX(ctx, "replay", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.SetNX(ctx, "replay", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	val, err := store.Get(ctx, "replay")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val, "SetNX must not overwrite the existing value")
}

func TestMemStoreSetNXSucceedsAfterExpiry(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	_, err := store.SetNX(ctx, "k", []byte("1"), time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	second, err := store.SetNX(ctx, "k", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, second)
}

func TestMemStoreDeleteIsIdempotent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	assert.NoError(t, store.Delete(ctx, "never-set"))

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, store.Delete(ctx, "k"))
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
