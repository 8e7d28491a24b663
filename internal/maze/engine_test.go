package maze

import (
	"context"
	"testing"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxDepth:         10,
		BaseBranchBudget: 4,
		GlobalBudgetCap:  100,
		BucketBudgetCap:  10,
		TokenTTL:         time.Minute,
		ChainMarkerTTL:   time.Minute,
		Checkpoint:       CheckpointPolicy{StepAheadMax: 2, CheckpointEveryMs: 60000, NoJSFallbackDepth: 5},
		PowBase:          1,
		Rollout:          RolloutEnforce,
	}
}

func TestBeginAcquiresLeaseAndMintsDepthOneToken(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	now := time.Now()

	out, err := Begin(ctx, store, testSecret, "flow-1", "/_/abc", "ipb", "uab", "nonce-1", testPolicy(), now)
	require.NoError(t, err)
	assert.False(t, out.Fell)
	require.NotNil(t, out.Lease)
	assert.Equal(t, 1, out.Token.Depth)
	assert.Equal(t, testPolicy().BaseBranchBudget, out.Token.BranchBudget)

	out.Lease.Release(ctx)
}

func TestBeginFallsBackWhenBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	policy := testPolicy()
	policy.BucketBudgetCap = 1
	now := time.Now()

	out1, err := Begin(ctx, store, testSecret, "flow-1", "/_/abc", "ipb", "uab", "n1", policy, now)
	require.NoError(t, err)
	require.False(t, out1.Fell)

	out2, err := Begin(ctx, store, testSecret, "flow-2", "/_/abc", "ipb", "uab", "n2", policy, now)
	require.NoError(t, err)
	assert.True(t, out2.Fell)
	assert.Equal(t, ReasonBudgetExceeded, out2.Fallback)
}

func TestAdvanceAcceptsValidChildToken(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	policy := testPolicy()
	now := time.Now()

	begin, err := Begin(ctx, store, testSecret, "flow-1", "/_/abc", "ipb", "uab", "n1", policy, now)
	require.NoError(t, err)
	begin.Lease.Release(ctx)

	child := begin.Token
	child.Depth = 2
	child.BranchBudget = ChildBudget(begin.Token.BranchBudget)
	child.PrevDigest = begin.Token.Digest()
	child.PathDigest = PathDigestOf("/_/abc/seg-1")
	raw := Mint(testSecret, child)

	out, err := Advance(ctx, store, testSecret, raw, "/_/abc", child.PathDigest, "ipb", "uab", 0, policy, now)
	require.NoError(t, err)
	assert.False(t, out.Fell)
	require.NotNil(t, out.Lease)
	out.Lease.Release(ctx)
}

func TestAdvanceRejectsReplayedToken(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	policy := testPolicy()
	now := time.Now()

	begin, err := Begin(ctx, store, testSecret, "flow-1", "/_/abc", "ipb", "uab", "n1", policy, now)
	require.NoError(t, err)
	begin.Lease.Release(ctx)

	child := begin.Token
	child.Depth = 2
	child.BranchBudget = ChildBudget(begin.Token.BranchBudget)
	child.PrevDigest = begin.Token.Digest()
	child.PathDigest = PathDigestOf("/_/abc/seg-1")
	raw := Mint(testSecret, child)

	out1, err := Advance(ctx, store, testSecret, raw, "/_/abc", child.PathDigest, "ipb", "uab", 0, policy, now)
	require.NoError(t, err)
	require.False(t, out1.Fell)
	out1.Lease.Release(ctx)

	out2, err := Advance(ctx, store, testSecret, raw, "/_/abc", child.PathDigest, "ipb", "uab", 0, policy, now)
	require.NoError(t, err)
	assert.True(t, out2.Fell)
	assert.Equal(t, ReasonTokenReplay, out2.Fallback)
}

func TestAdvanceRejectsInvalidToken(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	out, err := Advance(ctx, store, testSecret, "garbage", "/_/abc", "digest", "ipb", "uab", 0, testPolicy(), time.Now())
	require.NoError(t, err)
	assert.True(t, out.Fell)
	assert.Equal(t, ReasonTokenInvalid, out.Fallback)
	assert.Equal(t, ActionBlock, out.Action)
}

func TestAdvanceAcceptsMultipleSiblingChildrenFromSameParent(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	policy := testPolicy()
	now := time.Now()

	begin, err := Begin(ctx, store, testSecret, "flow-1", "/_/abc", "ipb", "uab", "n1", policy, now)
	require.NoError(t, err)
	begin.Lease.Release(ctx)

	mintSibling := func(segment string) string {
		child := begin.Token
		child.Depth = 2
		child.BranchBudget = ChildBudget(begin.Token.BranchBudget)
		child.PrevDigest = begin.Token.Digest()
		child.PathDigest = PathDigestOf("/_/abc/" + segment)
		child.OperationID = segment
		return Mint(testSecret, child)
	}

	raw1 := mintSibling("seg-1")
	raw2 := mintSibling("seg-2")

	out1, err := Advance(ctx, store, testSecret, raw1, "/_/abc", PathDigestOf("/_/abc/seg-1"), "ipb", "uab", 0, policy, now)
	require.NoError(t, err)
	require.False(t, out1.Fell, "first sibling should validate: %v", out1.Fallback)
	out1.Lease.Release(ctx)

	out2, err := Advance(ctx, store, testSecret, raw2, "/_/abc", PathDigestOf("/_/abc/seg-2"), "ipb", "uab", 0, policy, now)
	require.NoError(t, err)
	assert.False(t, out2.Fell, "second sibling sharing the same prev_digest must not be rejected as a replay: %v", out2.Fallback)
	if out2.Lease != nil {
		out2.Lease.Release(ctx)
	}
}
