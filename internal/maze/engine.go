package maze

import (
	"context"
	"fmt"
	"time"

	"github.com/edgegate/gate/internal/botness"
	"github.com/edgegate/gate/internal/kvstore"
	"github.com/google/uuid"
)

// Policy bundles the tunables the engine needs to evaluate a hop, drawn
// from the site's effective configuration.
type Policy struct {
	MaxDepth         int
	BaseBranchBudget int
	GlobalBudgetCap  int64
	BucketBudgetCap  int64
	TokenTTL         time.Duration
	ChainMarkerTTL   time.Duration
	Checkpoint       CheckpointPolicy
	PowBase          int
	Rollout          Rollout
}

// HopOutcome is the result of evaluating one maze traversal request.
type HopOutcome struct {
	Token         Token
	Lease         *Lease
	Style         Style
	FallbackScore *botness.Signal
	Fallback      FallbackReason
	Action        Action
	Fell          bool
}

func chainMarkerKey(flowID, digest string) string {
	return fmt.Sprintf("maze:token:chain:%s:%s", flowID, digest)
}

func replaySeenKey(flowID, operationID string) string {
	return fmt.Sprintf("maze:token:seen:%s:%s", flowID, operationID)
}

// chainValidated reports whether digest was previously marked as a hop that
// validated for this flow, proving the token naming it as prev_digest
// descends from a token this engine actually issued or advanced, rather
// than one fabricated with a plausible-looking prev_digest.
func chainValidated(ctx context.Context, store kvstore.Store, flowID, digest string) (bool, error) {
	if digest == "" {
		return true, nil
	}
	_, err := store.Get(ctx, chainMarkerKey(flowID, digest))
	if err == nil {
		return true, nil
	}
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	return false, err
}

// markChainValidated records that a token's own digest passed validation (or
// was freshly minted), so any child naming it as prev_digest can later prove
// its parent was genuine. Non-consuming: writing it twice is harmless, since
// sibling children minted off the same parent all share one prev_digest.
func markChainValidated(ctx context.Context, store kvstore.Store, flowID, digest string, ttl time.Duration) error {
	if err := store.Set(ctx, chainMarkerKey(flowID, digest), []byte("1"), ttl); err != nil {
		return fmt.Errorf("maze: mark chain validated: %w", err)
	}
	return nil
}

// claimReplay marks this token's own operation_id as consumed for the flow,
// so the exact same token can't be presented twice. Returns false if it
// already was.
func claimReplay(ctx context.Context, store kvstore.Store, flowID, operationID string, ttl time.Duration) (bool, error) {
	ok, err := store.SetNX(ctx, replaySeenKey(flowID, operationID), []byte("1"), ttl)
	if err != nil {
		return false, fmt.Errorf("maze: claim replay marker: %w", err)
	}
	return ok, nil
}

// Begin starts a fresh flow: mints the first-hop token and acquires its
// budget lease. Callers must call outcome.Lease.Release on every exit path.
func Begin(ctx context.Context, store kvstore.Store, secret []byte, flowID, pathPrefix, ipBucket, uaBucket string, entropyNonce string, policy Policy, now time.Time) (HopOutcome, error) {
	lease, ok, err := Acquire(ctx, store, ipBucket, policy.GlobalBudgetCap, policy.BucketBudgetCap)
	if err != nil {
		return HopOutcome{}, err
	}
	if !ok {
		sig := BudgetExhaustionSignal()
		return HopOutcome{Fallback: ReasonBudgetExceeded, FallbackScore: &sig, Fell: true}, nil
	}

	t := Token{
		FlowID:       flowID,
		OperationID:  uuid.NewString(),
		PathPrefix:   pathPrefix,
		PathDigest:   PathDigestOf(pathPrefix),
		Depth:        1,
		BranchBudget: policy.BaseBranchBudget,
		EntropyNonce: entropyNonce,
		IPBucket:     ipBucket,
		UABucket:     uaBucket,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(policy.TokenTTL).Unix(),
	}
	if err := markChainValidated(ctx, store, t.FlowID, t.Digest(), policy.ChainMarkerTTL); err != nil {
		lease.Release(ctx)
		return HopOutcome{}, err
	}
	return HopOutcome{Token: t, Lease: lease, Style: SelectStyle(1, 0, 0)}, nil
}

// Advance evaluates an existing-token hop: parses and verifies the raw
// token, confirms its parent hop actually validated here, claims the token
// itself against replay, checks the checkpoint protocol, and only then
// acquires a fresh lease. On any failure it returns Fell=true with the
// fallback reason and the resolved enforcement action and holds no lease;
// a caller-owned lease is returned only when every check passes.
func Advance(ctx context.Context, store kvstore.Store, secret []byte, rawToken, pathPrefix, pathDigest, ipBucket, uaBucket string, botnessScore uint8, policy Policy, now time.Time) (HopOutcome, error) {
	t, err := Parse(secret, rawToken)
	if err != nil {
		return fallbackOutcome(ctx, store, ipBucket, ReasonTokenInvalid, policy, now)
	}

	if bindErr := VerifyBinding(t, pathPrefix, pathDigest, ipBucket, uaBucket, policy.MaxDepth, now); bindErr != nil {
		switch bindErr {
		case ErrTokenExpired:
			return fallbackOutcome(ctx, store, ipBucket, ReasonTokenExpired, policy, now)
		case ErrTokenDepthExceeded:
			return fallbackOutcome(ctx, store, ipBucket, ReasonTokenDepthExceeded, policy, now)
		default:
			return fallbackOutcome(ctx, store, ipBucket, ReasonTokenBindingMismatch, policy, now)
		}
	}

	if t.Depth > 1 {
		validated, err := chainValidated(ctx, store, t.FlowID, t.PrevDigest)
		if err != nil {
			return HopOutcome{}, err
		}
		if !validated {
			return fallbackOutcome(ctx, store, ipBucket, ReasonTokenBindingMismatch, policy, now)
		}
	}

	claimed, err := claimReplay(ctx, store, t.FlowID, t.OperationID, policy.ChainMarkerTTL)
	if err != nil {
		return HopOutcome{}, err
	}
	if !claimed {
		return fallbackOutcome(ctx, store, ipBucket, ReasonTokenReplay, policy, now)
	}

	if policy.Checkpoint.StepAheadMax > 0 {
		cp, hasCp, err := LoadCheckpoint(ctx, store, t.FlowID, ipBucket)
		if err != nil {
			return HopOutcome{}, err
		}
		if IsCheckpointMissing(cp, hasCp, t.Depth, now.UnixMilli(), policy.Checkpoint) {
			return fallbackOutcome(ctx, store, ipBucket, ReasonCheckpointMissing, policy, now)
		}
	}

	lease, ok, err := Acquire(ctx, store, ipBucket, policy.GlobalBudgetCap, policy.BucketBudgetCap)
	if err != nil {
		return HopOutcome{}, err
	}
	if !ok {
		return fallbackOutcome(ctx, store, ipBucket, ReasonBudgetExceeded, policy, now)
	}

	if err := markChainValidated(ctx, store, t.FlowID, t.Digest(), policy.ChainMarkerTTL); err != nil {
		lease.Release(ctx)
		return HopOutcome{}, err
	}

	violations, _ := ReadViolation(ctx, store, ipBucket)
	out := HopOutcome{Token: t, Lease: lease, Style: SelectStyle(t.Depth, botnessScore, violations)}
	if ShouldSampleProgression(t.Depth) {
		sig := RoutineProgressionSignal()
		out.FallbackScore = &sig
	}
	return out, nil
}

// isHighConfidenceViolation reports whether reason is unambiguous enough
// (a replayed or mismatched token, a skipped checkpoint, a forged PoW
// solution) to count toward a client's escalation counter. Low-confidence
// reasons like an expired token or ordinary budget contention do not, so a
// slow network or momentary contention can't push a client toward Block.
func isHighConfidenceViolation(reason FallbackReason) bool {
	switch reason {
	case ReasonTokenReplay, ReasonTokenBindingMismatch, ReasonCheckpointMissing, ReasonMicroPowFailed:
		return true
	default:
		return false
	}
}

func fallbackOutcome(ctx context.Context, store kvstore.Store, ipBucket string, reason FallbackReason, policy Policy, now time.Time) (HopOutcome, error) {
	var violations int
	if isHighConfidenceViolation(reason) {
		var err error
		violations, err = IncrementViolation(ctx, store, ipBucket)
		if err != nil {
			return HopOutcome{}, err
		}
	} else {
		violations, _ = ReadViolation(ctx, store, ipBucket)
	}
	action, enforced := Resolve(reason, policy.Rollout, violations)
	sig := TokenFailureSignal()
	if reason == ReasonBudgetExceeded {
		sig = BudgetExhaustionSignal()
	}
	out := HopOutcome{
		Fallback:      reason,
		FallbackScore: &sig,
		Fell:          true,
	}
	if enforced {
		out.Action = action
	}
	return out, nil
}
