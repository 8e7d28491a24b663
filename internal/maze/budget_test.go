package maze

import (
	"context"
	"testing"

	"github.com/edgegate/gate/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSucceedsUnderCap(t *testing.T) {
	store := kvstore.NewMemStore()
	lease, ok, err := Acquire(context.Background(), store, "ipb", 10, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, lease)
}

func TestAcquireFailsAtBucketCap(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()

	lease1, ok, err := Acquire(ctx, store, "ipb", 10, 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := Acquire(ctx, store, "ipb", 10, 1)
	require.NoError(t, err)
	assert.False(t, ok2)

	lease1.Release(ctx)
	_, ok3, err := Acquire(ctx, store, "ipb", 10, 1)
	require.NoError(t, err)
	assert.True(t, ok3)
}

func TestAcquireFailsAtGlobalCap(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()

	_, ok, err := Acquire(ctx, store, "bucket-a", 1, 10)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := Acquire(ctx, store, "bucket-b", 1, 10)
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()

	lease, ok, err := Acquire(ctx, store, "ipb", 10, 1)
	require.NoError(t, err)
	require.True(t, ok)

	lease.Release(ctx)
	lease.Release(ctx)

	_, ok2, err := Acquire(ctx, store, "ipb", 10, 1)
	require.NoError(t, err)
	assert.True(t, ok2)
}
