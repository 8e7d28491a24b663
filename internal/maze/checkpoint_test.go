package maze

import (
	"context"
	"testing"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultCheckpointPolicy() CheckpointPolicy {
	return CheckpointPolicy{StepAheadMax: 2, CheckpointEveryMs: 5000, NoJSFallbackDepth: 1}
}

func TestCheckpointStoreAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	cp := Checkpoint{LastTimestampMs: 1000, LastDepth: 2, ExpiresAt: 9999}

	require.NoError(t, StoreCheckpoint(ctx, store, "flow-1", "ipb", cp, time.Minute))

	loaded, ok, err := LoadCheckpoint(ctx, store, "flow-1", "ipb")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cp, loaded)
}

func TestIsCheckpointMissingExemptsShallowDepth(t *testing.T) {
	policy := defaultCheckpointPolicy()
	missing := IsCheckpointMissing(Checkpoint{}, false, 1, 10000, policy)
	assert.False(t, missing)
}

func TestIsCheckpointMissingWhenAbsentAtDepth(t *testing.T) {
	policy := defaultCheckpointPolicy()
	missing := IsCheckpointMissing(Checkpoint{}, false, 5, 10000, policy)
	assert.True(t, missing)
}

func TestIsCheckpointMissingWhenDepthRunsAhead(t *testing.T) {
	policy := defaultCheckpointPolicy()
	cp := Checkpoint{LastTimestampMs: 1000, LastDepth: 1}
	missing := IsCheckpointMissing(cp, true, 5, 1100, policy)
	assert.True(t, missing)
}

func TestIsCheckpointMissingWhenStale(t *testing.T) {
	policy := defaultCheckpointPolicy()
	cp := Checkpoint{LastTimestampMs: 1000, LastDepth: 4}
	missing := IsCheckpointMissing(cp, true, 5, 10000, policy)
	assert.True(t, missing)
}

func TestIsCheckpointMissingFalseWhenFresh(t *testing.T) {
	policy := defaultCheckpointPolicy()
	cp := Checkpoint{LastTimestampMs: 1000, LastDepth: 4}
	missing := IsCheckpointMissing(cp, true, 5, 2000, policy)
	assert.False(t, missing)
}
