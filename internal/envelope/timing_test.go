package envelope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/gate/internal/kvstore"
)

func defaultThresholds() TimingThresholds {
	return TimingThresholds{
		MinStepLatency:   50 * time.Millisecond,
		MaxStepLatency:   time.Hour,
		MaxFlowAge:       time.Hour,
		RegularityWindow: 3,
		RegularitySpread: 10 * time.Millisecond,
		HistoryTTL:       time.Minute,
	}
}

func TestValidateTimingPrimitivesRejectsTooFast(t *testing.T) {
	store := kvstore.NewMemStore()
	issued := time.Unix(time.Now().Unix(), 0)
	env := Envelope{FlowID: "f", OperationID: "op", IssuedAt: issued.Unix()}
	err := ValidateTimingPrimitives(context.Background(), store, "f", "bucket", env, defaultThresholds(), issued.Add(time.Millisecond))
	assert.Equal(t, ErrTooFast, err)
}

func TestValidateTimingPrimitivesRejectsTooSlow(t *testing.T) {
	store := kvstore.NewMemStore()
	issued := time.Now()
	env := Envelope{FlowID: "f", OperationID: "op", IssuedAt: issued.Unix()}
	thresholds := defaultThresholds()
	thresholds.MaxStepLatency = time.Second
	err := ValidateTimingPrimitives(context.Background(), store, "f", "bucket", env, thresholds, issued.Add(time.Hour))
	assert.Equal(t, ErrTooSlow, err)
}

func TestValidateTimingPrimitivesRejectsTooRegular(t *testing.T) {
	store := kvstore.NewMemStore()
	ctx := context.Background()
	thresholds := defaultThresholds()

	base := time.Now()
	for i := 0; i < 3; i++ {
		issued := base
		now := base.Add(200 * time.Millisecond)
		env := Envelope{FlowID: "f", OperationID: "op", IssuedAt: issued.Unix()}
		err := ValidateTimingPrimitives(ctx, store, "f", "bucket", env, thresholds, now)
		if i < 2 {
			require.NoError(t, err)
		} else {
			assert.Equal(t, ErrTooRegular, err)
		}
	}
}

func TestValidateOperationReplayDetectsReplay(t *testing.T) {
	store := kvstore.NewMemStore()
	ctx := context.Background()
	now := time.Now()
	env := Envelope{FlowID: "f", OperationID: "op", ExpiresAt: now.Add(time.Minute).Unix()}

	err := ValidateOperationReplay(ctx, store, env, time.Minute, now)
	require.NoError(t, err)

	err = ValidateOperationReplay(ctx, store, env, time.Minute, now)
	assert.Equal(t, ErrReplayDetected, err)
}

func TestValidateOperationReplayDetectsExpired(t *testing.T) {
	store := kvstore.NewMemStore()
	ctx := context.Background()
	now := time.Now()
	env := Envelope{FlowID: "f", OperationID: "op", ExpiresAt: now.Add(-time.Minute).Unix()}

	err := ValidateOperationReplay(ctx, store, env, time.Minute, now)
	assert.Equal(t, ErrExpiredOperation, err)
}
