package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
)

// State is the last-observed fingerprint evidence for a pseudonymous
// identity, used to detect temporally-impossible transitions.
type State struct {
	TimestampMs int64  `json:"ts"`
	UAFamily    Family `json:"ua_family"`
	JA4Hash     string `json:"ja4_hash"`
}

func stateKey(identity string) string {
	return "fp:state:" + identity
}

func loadState(ctx context.Context, store kvstore.Store, identity string) (State, bool, error) {
	raw, err := store.Get(ctx, stateKey(identity))
	if err == kvstore.ErrNotFound {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("fingerprint: load state: %w", err)
	}
	var s State
	if jsonErr := json.Unmarshal(raw, &s); jsonErr != nil {
		return State{}, false, nil
	}
	return s, true, nil
}

func storeState(ctx context.Context, store kvstore.Store, identity string, s State, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("fingerprint: marshal state: %w", err)
	}
	return store.Set(ctx, stateKey(identity), raw, ttl)
}

func flowBucketKey(identity string, bucket int64) string {
	return fmt.Sprintf("fp:flow:%s:%d", identity, bucket)
}

func flowLastBucketKey(identity string) string {
	return fmt.Sprintf("fp:flow:last_bucket:%s", identity)
}

// updateFlowMismatchCount increments the mismatch counter for identity's
// current window bucket, deleting the prior bucket's key on rollover so
// stale counts don't linger past their window, then returns the updated
// count for the current bucket.
func updateFlowMismatchCount(ctx context.Context, store kvstore.Store, identity string, windowSec int, ttl time.Duration, now time.Time) (int64, error) {
	if windowSec < 1 {
		windowSec = 1
	}
	bucket := now.Unix() / int64(windowSec)

	lastRaw, err := store.Get(ctx, flowLastBucketKey(identity))
	if err != nil && err != kvstore.ErrNotFound {
		return 0, fmt.Errorf("fingerprint: read last bucket: %w", err)
	}
	if err == nil {
		var lastBucket int64
		if jsonErr := json.Unmarshal(lastRaw, &lastBucket); jsonErr == nil && lastBucket != bucket {
			_ = store.Delete(ctx, flowBucketKey(identity, lastBucket))
		}
	}

	count, err := incrementCounter(ctx, store, flowBucketKey(identity, bucket), ttl)
	if err != nil {
		return 0, err
	}

	if lastBucketRaw, marshalErr := json.Marshal(bucket); marshalErr == nil {
		_ = store.Set(ctx, flowLastBucketKey(identity), lastBucketRaw, ttl)
	}

	return count, nil
}

// incrementCounter performs a get-modify-set increment. Concurrent writers
// can race and lose an increment; that's acceptable for a soft rate/mismatch
// signal, matching the rate limiter's own documented tolerance.
func incrementCounter(ctx context.Context, store kvstore.Store, key string, ttl time.Duration) (int64, error) {
	var count int64
	raw, err := store.Get(ctx, key)
	if err != nil && err != kvstore.ErrNotFound {
		return 0, fmt.Errorf("fingerprint: read counter: %w", err)
	}
	if err == nil {
		_ = json.Unmarshal(raw, &count)
	}
	count++
	encoded, marshalErr := json.Marshal(count)
	if marshalErr != nil {
		return 0, marshalErr
	}
	if setErr := store.Set(ctx, key, encoded, ttl); setErr != nil {
		return 0, fmt.Errorf("fingerprint: write counter: %w", setErr)
	}
	return count, nil
}

func readFlowMismatchCount(ctx context.Context, store kvstore.Store, identity string, windowSec int, now time.Time) int64 {
	if windowSec < 1 {
		windowSec = 1
	}
	bucket := now.Unix() / int64(windowSec)
	raw, err := store.Get(ctx, flowBucketKey(identity, bucket))
	if err != nil {
		return 0
	}
	var count int64
	_ = json.Unmarshal(raw, &count)
	return count
}
