// Package ratelimit implements the fixed-window request counter and the
// ban store that escalates sustained abuse into a temporary block.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
)

// Decision is the outcome of a rate check for one bucket.
type Decision string

const (
	Allowed   Decision = "allowed"
	Throttle  Decision = "throttle"
	BanWorthy Decision = "ban_worthy"
)

// Result carries the decision and the usage count it was computed from.
type Result struct {
	Decision Decision
	Usage    int64
}

// Limiter is a fixed-window, KV-backed request counter. It tolerates a
// get-modify-set race losing an occasional increment under concurrent
// writers; that imprecision is acceptable for a rate signal, not a hard
// security boundary.
type Limiter struct {
	store     kvstore.Store
	windowSec int
	banFactor float64
}

// New returns a Limiter using fixed windows of windowSec seconds. banFactor
// sets the multiple of limit at which usage becomes BanWorthy.
func New(store kvstore.Store, windowSec int, banFactor float64) *Limiter {
	if windowSec < 1 {
		windowSec = 1
	}
	if banFactor <= 1 {
		banFactor = 3
	}
	return &Limiter{store: store, windowSec: windowSec, banFactor: banFactor}
}

func (l *Limiter) bucketKey(bucket string, now time.Time) string {
	window := now.Unix() / int64(l.windowSec)
	return fmt.Sprintf("rate:%s:%d", bucket, window)
}

// Check increments bucket's counter for the current window and classifies
// the resulting usage against limit and the configured ban factor.
func (l *Limiter) Check(ctx context.Context, bucket string, limit int, now time.Time) (Result, error) {
	key := l.bucketKey(bucket, now)

	var usage int64
	raw, err := l.store.Get(ctx, key)
	if err != nil && err != kvstore.ErrNotFound {
		return Result{}, fmt.Errorf("ratelimit: read counter: %w", err)
	}
	if err == nil {
		_ = json.Unmarshal(raw, &usage)
	}
	usage++

	encoded, marshalErr := json.Marshal(usage)
	if marshalErr != nil {
		return Result{}, marshalErr
	}
	ttl := time.Duration(l.windowSec) * time.Second
	if setErr := l.store.Set(ctx, key, encoded, ttl); setErr != nil {
		return Result{}, fmt.Errorf("ratelimit: write counter: %w", setErr)
	}

	banThreshold := int64(float64(limit)*l.banFactor) + 1
	switch {
	case usage >= banThreshold:
		return Result{Decision: BanWorthy, Usage: usage}, nil
	case usage > int64(limit):
		return Result{Decision: Throttle, Usage: usage}, nil
	default:
		return Result{Decision: Allowed, Usage: usage}, nil
	}
}
