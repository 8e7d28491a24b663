package maze

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
)

// Checkpoint is the last-seen progress record for a flow, posted by the
// client-side traversal script on a timer so the engine can tell real
// forward progress from a client that stopped running JS.
type Checkpoint struct {
	LastTimestampMs int64 `json:"last_ts_ms"`
	LastDepth       int   `json:"last_depth"`
	ExpiresAt       int64 `json:"expires_at"`
}

func checkpointKey(flowID, ipBucket string) string {
	return fmt.Sprintf("maze:checkpoint:%s:%s", flowID, ipBucket)
}

// StoreCheckpoint persists the client's latest checkpoint post.
func StoreCheckpoint(ctx context.Context, store kvstore.Store, flowID, ipBucket string, cp Checkpoint, ttl time.Duration) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return store.Set(ctx, checkpointKey(flowID, ipBucket), raw, ttl)
}

// LoadCheckpoint returns the zero Checkpoint, ok=false when none exists yet
// (e.g. the very first hop of a flow).
func LoadCheckpoint(ctx context.Context, store kvstore.Store, flowID, ipBucket string) (Checkpoint, bool, error) {
	raw, err := store.Get(ctx, checkpointKey(flowID, ipBucket))
	if err == kvstore.ErrNotFound {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("maze: read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// CheckpointPolicy bounds how far traversal depth may run ahead of the last
// confirmed checkpoint, and how long a checkpoint may go stale, before a
// request is treated as missing one.
type CheckpointPolicy struct {
	StepAheadMax      int
	CheckpointEveryMs int64
	NoJSFallbackDepth int
}

// IsCheckpointMissing reports whether the current hop has run further
// ahead of, or longer past, its last checkpoint than policy allows. Depths
// at or below NoJSFallbackDepth are exempt, since a client that never runs
// JS (and so never posts a checkpoint) is tolerated up to that depth.
func IsCheckpointMissing(cp Checkpoint, hasCheckpoint bool, currentDepth int, nowMs int64, policy CheckpointPolicy) bool {
	if currentDepth <= policy.NoJSFallbackDepth {
		return false
	}
	if !hasCheckpoint {
		return true
	}
	if currentDepth-cp.LastDepth > policy.StepAheadMax {
		return true
	}
	if nowMs-cp.LastTimestampMs > policy.CheckpointEveryMs {
		return true
	}
	return false
}
