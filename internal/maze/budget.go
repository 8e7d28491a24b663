package maze

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgegate/gate/internal/kvstore"
)

func globalBudgetKey() string { return "maze:budget:active:global" }

func bucketBudgetKey(ipBucket string) string {
	return fmt.Sprintf("maze:budget:active:bucket:%s", ipBucket)
}

// Lease is a held concurrency slot. Release MUST be called on every exit
// path — including panics — which callers guarantee with a deferred call
// right after Acquire succeeds.
type Lease struct {
	store    kvstore.Store
	ipBucket string
	released bool
}

// Acquire takes one slot from both the global and per-bucket concurrency
// budgets. It fails closed: if either cap is already met, no counters are
// incremented and ok is false.
func Acquire(ctx context.Context, store kvstore.Store, ipBucket string, globalCap, bucketCap int64) (*Lease, bool, error) {
	global, err := readCounter(ctx, store, globalBudgetKey())
	if err != nil {
		return nil, false, err
	}
	if global >= globalCap {
		return nil, false, nil
	}
	bucket, err := readCounter(ctx, store, bucketBudgetKey(ipBucket))
	if err != nil {
		return nil, false, err
	}
	if bucket >= bucketCap {
		return nil, false, nil
	}

	if err := writeCounter(ctx, store, globalBudgetKey(), global+1); err != nil {
		return nil, false, err
	}
	if err := writeCounter(ctx, store, bucketBudgetKey(ipBucket), bucket+1); err != nil {
		// Best-effort unwind of the global increment; a stray +1 self-heals
		// as other leases release and the counter saturates at the cap.
		_ = writeCounter(ctx, store, globalBudgetKey(), global)
		return nil, false, err
	}
	return &Lease{store: store, ipBucket: ipBucket}, true, nil
}

// Release decrements both counters. Safe to call more than once; only the
// first call has effect. Errors are swallowed because release happens in
// defers where the request has already been served — a KV write failure
// here means the budget drifts high until the saturating counters recover,
// never that the request fails.
func (l *Lease) Release(ctx context.Context) {
	if l == nil || l.released {
		return
	}
	l.released = true
	if global, err := readCounter(ctx, l.store, globalBudgetKey()); err == nil {
		_ = writeCounter(ctx, l.store, globalBudgetKey(), saturatingDec(global))
	}
	if bucket, err := readCounter(ctx, l.store, bucketBudgetKey(l.ipBucket)); err == nil {
		_ = writeCounter(ctx, l.store, bucketBudgetKey(l.ipBucket), saturatingDec(bucket))
	}
}

func saturatingDec(v int64) int64 {
	if v <= 0 {
		return 0
	}
	return v - 1
}

func readCounter(ctx context.Context, store kvstore.Store, key string) (int64, error) {
	raw, err := store.Get(ctx, key)
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("maze: read budget counter %s: %w", key, err)
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, nil
	}
	return v, nil
}

func writeCounter(ctx context.Context, store kvstore.Store, key string, v int64) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, raw, 0)
}
