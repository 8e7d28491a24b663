package maze

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
)

func violationKey(ipBucket string) string {
	return fmt.Sprintf("maze:violation:%s", ipBucket)
}

// violationTTL bounds how long a run of fallback trips keeps counting
// against a bucket before it resets, so a stale burst from months ago
// doesn't permanently force Block on a bucket that later behaves.
const violationTTL = 24 * time.Hour

// IncrementViolation records a fallback trip for ipBucket and returns the
// updated running count.
func IncrementViolation(ctx context.Context, store kvstore.Store, ipBucket string) (int, error) {
	key := violationKey(ipBucket)
	var count int
	raw, err := store.Get(ctx, key)
	if err != nil && err != kvstore.ErrNotFound {
		return 0, fmt.Errorf("maze: read violation counter: %w", err)
	}
	if err == nil {
		_ = json.Unmarshal(raw, &count)
	}
	count++
	encoded, marshalErr := json.Marshal(count)
	if marshalErr != nil {
		return 0, marshalErr
	}
	if setErr := store.Set(ctx, key, encoded, violationTTL); setErr != nil {
		return 0, fmt.Errorf("maze: write violation counter: %w", setErr)
	}
	return count, nil
}

// ReadViolation returns the current running count without incrementing it.
func ReadViolation(ctx context.Context, store kvstore.Store, ipBucket string) (int, error) {
	raw, err := store.Get(ctx, violationKey(ipBucket))
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("maze: read violation counter: %w", err)
	}
	var count int
	_ = json.Unmarshal(raw, &count)
	return count, nil
}
