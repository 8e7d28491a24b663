package envelope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
)

// TimingError names a failure from ValidateTimingPrimitives.
type TimingError string

const (
	ErrTooFast    TimingError = "too_fast"
	ErrTooSlow    TimingError = "too_slow"
	ErrTooRegular TimingError = "too_regular"
)

func (e TimingError) Error() string { return string(e) }

// TimingThresholds configures the three timing-plausibility tests.
type TimingThresholds struct {
	MinStepLatency   time.Duration
	MaxStepLatency   time.Duration
	MaxFlowAge       time.Duration
	RegularityWindow int
	RegularitySpread time.Duration
	HistoryTTL       time.Duration
}

type timingHistory struct {
	Deltas []int64 `json:"deltas"` // milliseconds
}

func timingHistoryKey(flowID string, bucket string) string {
	return fmt.Sprintf("envelope:timing:%s:%s", flowID, bucket)
}

// ValidateTimingPrimitives records the observed submit-time delta for this
// step and checks it (and recent history) against the three timing tests.
// bucket scopes the history key, e.g. the flow's ip_bucket, so timing
// history doesn't cross identities.
func ValidateTimingPrimitives(ctx context.Context, store kvstore.Store, flowID, bucket string, env Envelope, thresholds TimingThresholds, now time.Time) error {
	key := timingHistoryKey(flowID, bucket)

	var history timingHistory
	raw, err := store.Get(ctx, key)
	if err != nil && err != kvstore.ErrNotFound {
		return fmt.Errorf("envelope: read timing history: %w", err)
	}
	if err == nil {
		if jsonErr := json.Unmarshal(raw, &history); jsonErr != nil {
			history = timingHistory{}
		}
	}

	latency := now.Sub(time.Unix(env.IssuedAt, 0))
	flowAge := now.Sub(time.Unix(env.IssuedAt, 0))

	if latency < thresholds.MinStepLatency {
		return ErrTooFast
	}
	if latency > thresholds.MaxStepLatency || flowAge > thresholds.MaxFlowAge {
		return ErrTooSlow
	}

	deltaMs := latency.Milliseconds()
	history.Deltas = append(history.Deltas, deltaMs)
	if thresholds.RegularityWindow > 0 && len(history.Deltas) > thresholds.RegularityWindow {
		history.Deltas = history.Deltas[len(history.Deltas)-thresholds.RegularityWindow:]
	}

	if thresholds.RegularityWindow > 0 && len(history.Deltas) >= thresholds.RegularityWindow {
		spread := spreadOf(history.Deltas)
		if time.Duration(spread)*time.Millisecond < thresholds.RegularitySpread {
			// Still persist this observation before reporting so the next
			// attempt sees an up-to-date (pruned) history.
			persistTimingHistory(ctx, store, key, history, thresholds.HistoryTTL)
			return ErrTooRegular
		}
	}

	persistTimingHistory(ctx, store, key, history, thresholds.HistoryTTL)
	return nil
}

func persistTimingHistory(ctx context.Context, store kvstore.Store, key string, history timingHistory, ttl time.Duration) {
	raw, err := json.Marshal(history)
	if err != nil {
		return
	}
	_ = store.Set(ctx, key, raw, ttl)
}

func spreadOf(deltas []int64) int64 {
	if len(deltas) == 0 {
		return 0
	}
	min, max := deltas[0], deltas[0]
	for _, d := range deltas[1:] {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return max - min
}

// ReplayError names a failure from ValidateOperationReplay.
type ReplayError string

const (
	ErrReplayDetected   ReplayError = "replay_detected"
	ErrExpiredOperation ReplayError = "expired_operation"
)

func (e ReplayError) Error() string { return string(e) }

func replayKey(flowID, operationID string) string {
	return fmt.Sprintf("maze:token:seen:%s:%s", flowID, operationID)
}

// ValidateOperationReplay attempts to claim the (flow_id, operation_id)
// pair exactly once via SetNX. A second attempt on the same pair, while the
// marker is still live, is a replay. This reuses the same key namespace the
// maze engine claims traversal-token replays against: an operation_id is
// unique across the whole gate, not just within one flow kind.
func ValidateOperationReplay(ctx context.Context, store kvstore.Store, env Envelope, replayTTL time.Duration, now time.Time) error {
	if now.Unix() > env.ExpiresAt {
		return ErrExpiredOperation
	}

	expiry := time.Unix(env.ExpiresAt, 0)
	ttlCandidate := now.Add(replayTTL)
	if ttlCandidate.Before(expiry) {
		expiry = ttlCandidate
	}
	ttl := expiry.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}

	claimed, err := store.SetNX(ctx, replayKey(env.FlowID, env.OperationID), []byte("1"), ttl)
	if err != nil {
		return fmt.Errorf("envelope: claim replay marker: %w", err)
	}
	if !claimed {
		return ErrReplayDetected
	}
	return nil
}
