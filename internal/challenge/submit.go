package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgegate/gate/internal/envelope"
	"github.com/edgegate/gate/internal/kvstore"
)

// SubmitOutcome enumerates every terminal result of a puzzle submission,
// driving the router's enforcement classification. Not-a-bot submissions
// report through NotABotOutcome instead.
type SubmitOutcome string

const (
	OutcomeAttemptLimitExceeded     SubmitOutcome = "attempt_limit_exceeded"
	OutcomeSequenceOpMissing        SubmitOutcome = "sequence_op_missing"
	OutcomeSequenceOpInvalid        SubmitOutcome = "sequence_op_invalid"
	OutcomeForbidden                SubmitOutcome = "forbidden"
	OutcomeSequenceOpExpired        SubmitOutcome = "sequence_op_expired"
	OutcomeSequenceOrderViolation   SubmitOutcome = "sequence_order_violation"
	OutcomeSequenceWindowExceeded   SubmitOutcome = "sequence_window_exceeded"
	OutcomeSequenceBindingMismatch  SubmitOutcome = "sequence_binding_mismatch"
	OutcomeSequenceTimingTooFast    SubmitOutcome = "sequence_timing_too_fast"
	OutcomeSequenceTimingTooRegular SubmitOutcome = "sequence_timing_too_regular"
	OutcomeSequenceTimingTooSlow    SubmitOutcome = "sequence_timing_too_slow"
	OutcomeSequenceOpReplay         SubmitOutcome = "sequence_op_replay"
	OutcomeInvalidOutput            SubmitOutcome = "invalid_output"
	OutcomeSolved                   SubmitOutcome = "solved"
	OutcomeIncorrect                SubmitOutcome = "incorrect"
)

const maxSubmittedOutputLen = 32

// SubmitParams carries everything the submission pipeline needs for one
// puzzle-submit request.
type SubmitParams struct {
	Secret            []byte
	RawSeedToken      string
	SubmittedOutput   string
	ExpectedStepID    string
	ExpectedStepIndex int
	Binding           envelope.Binding
	AttemptBucket     string
	MaxAttempts       int
	AttemptWindow     time.Duration
	MaxStepWindow     time.Duration
	Timing            envelope.TimingThresholds
	ReplayTTL         time.Duration
}

// Submit runs the full validator chain in the mandated order: submitted
// output length, attempt limit, seed token parse, signed envelope shape,
// expiry, ordering window, request binding, timing primitives, replay, then
// output comparison.
func Submit(ctx context.Context, store kvstore.Store, params SubmitParams, now time.Time) (SubmitOutcome, error) {
	if len(params.SubmittedOutput) > maxSubmittedOutputLen {
		return OutcomeInvalidOutput, nil
	}

	attempts, err := incrementAttemptCounter(ctx, store, params.AttemptBucket, params.AttemptWindow)
	if err != nil {
		return "", err
	}
	if params.MaxAttempts > 0 && attempts > int64(params.MaxAttempts) {
		return OutcomeAttemptLimitExceeded, nil
	}

	payload, err := ParseSeedToken(params.Secret, params.RawSeedToken)
	if err != nil {
		if IsMissingOperationID(err) {
			return OutcomeSequenceOpMissing, nil
		}
		if _, ok := err.(SeedTokenError); ok {
			return OutcomeSequenceOpInvalid, nil
		}
		return OutcomeForbidden, nil
	}
	env := payload.Envelope

	if err := envelope.ValidateSignedEnvelope(env, params.MaxStepWindow); err != nil {
		return OutcomeSequenceOpInvalid, nil
	}
	if now.Unix() > env.ExpiresAt {
		return OutcomeSequenceOpExpired, nil
	}

	if err := envelope.ValidateOrderingWindow(env, params.ExpectedStepID, params.ExpectedStepIndex, params.MaxStepWindow, now); err != nil {
		switch err {
		case envelope.ErrOrderViolation:
			return OutcomeSequenceOrderViolation, nil
		case envelope.ErrWindowExceeded:
			return OutcomeSequenceWindowExceeded, nil
		}
		return OutcomeForbidden, nil
	}

	if err := envelope.ValidateRequestBinding(env, params.Binding); err != nil {
		return OutcomeSequenceBindingMismatch, nil
	}

	if err := envelope.ValidateTimingPrimitives(ctx, store, env.FlowID, params.Binding.IPBucket, env, params.Timing, now); err != nil {
		switch err {
		case envelope.ErrTooFast:
			return OutcomeSequenceTimingTooFast, nil
		case envelope.ErrTooRegular:
			return OutcomeSequenceTimingTooRegular, nil
		case envelope.ErrTooSlow:
			return OutcomeSequenceTimingTooSlow, nil
		}
		return OutcomeForbidden, nil
	}

	if err := envelope.ValidateOperationReplay(ctx, store, env, params.ReplayTTL, now); err != nil {
		switch err {
		case envelope.ErrReplayDetected:
			return OutcomeSequenceOpReplay, nil
		case envelope.ErrExpiredOperation:
			return OutcomeSequenceOpExpired, nil
		}
		return OutcomeForbidden, nil
	}

	if CheckPuzzleOutput(payload.Seed, params.SubmittedOutput) {
		return OutcomeSolved, nil
	}
	return OutcomeIncorrect, nil
}

func attemptCounterKey(bucket string) string {
	return fmt.Sprintf("challenge_puzzle:attempt:%s", bucket)
}

func incrementAttemptCounter(ctx context.Context, store kvstore.Store, bucket string, windowDur time.Duration) (int64, error) {
	key := attemptCounterKey(bucket)

	var count int64
	raw, err := store.Get(ctx, key)
	if err != nil && err != kvstore.ErrNotFound {
		return 0, fmt.Errorf("challenge: read attempt counter: %w", err)
	}
	if err == nil {
		_ = json.Unmarshal(raw, &count)
	}
	count++
	encoded, marshalErr := json.Marshal(count)
	if marshalErr != nil {
		return 0, marshalErr
	}
	if setErr := store.Set(ctx, key, encoded, windowDur); setErr != nil {
		return 0, fmt.Errorf("challenge: write attempt counter: %w", setErr)
	}
	return count, nil
}
