package challenge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/edgegate/gate/internal/envelope"
	"github.com/edgegate/gate/internal/kvstore"
)

// NotABotOutcome enumerates the terminal results of a not-a-bot click
// submission.
type NotABotOutcome string

const (
	NotABotPass                 NotABotOutcome = "pass"
	NotABotEscalatePuzzle       NotABotOutcome = "escalate_puzzle"
	NotABotReplay               NotABotOutcome = "replay"
	NotABotInvalidSeed          NotABotOutcome = "invalid_seed"
	NotABotMissingSeed          NotABotOutcome = "missing_seed"
	NotABotSequenceViolation    NotABotOutcome = "sequence_violation"
	NotABotBindingMismatch      NotABotOutcome = "binding_mismatch"
	NotABotInvalidTelemetry     NotABotOutcome = "invalid_telemetry"
	NotABotAttemptLimitExceeded NotABotOutcome = "attempt_limit_exceeded"
	NotABotFailedScore          NotABotOutcome = "failed_score"
	NotABotExpired              NotABotOutcome = "expired"
	NotABotMazeOrBlock          NotABotOutcome = "maze_or_block"
)

// NotABotParams carries the inputs for one not-a-bot submission.
type NotABotParams struct {
	Secret                   []byte
	RawSeedToken             string
	TelemetrySignature       string
	TelemetryPayload         []byte
	Binding                  envelope.Binding
	ExpectedStepID           string
	ExpectedStepIndex        int
	AttemptBucket            string
	MaxAttempts              int
	AttemptWindow            time.Duration
	MaxStepWindow            time.Duration
	Timing                   envelope.TimingThresholds
	ReplayTTL                time.Duration
	Botness                  uint8
	BotnessFailThreshold     uint8
	BotnessEscalateThreshold uint8
}

// SubmitNotABot validates a not-a-bot click the same way Submit validates a
// puzzle — attempt limit, seed parse, ordering, binding, timing, replay —
// plus a telemetry signature check and a botness-score gate in place of an
// output comparison.
func SubmitNotABot(ctx context.Context, store kvstore.Store, params NotABotParams, now time.Time) (NotABotOutcome, error) {
	attempts, err := incrementAttemptCounter(ctx, store, params.AttemptBucket, params.AttemptWindow)
	if err != nil {
		return "", err
	}
	if params.MaxAttempts > 0 && attempts > int64(params.MaxAttempts) {
		return NotABotAttemptLimitExceeded, nil
	}

	if params.RawSeedToken == "" {
		return NotABotMissingSeed, nil
	}

	payload, err := ParseSeedToken(params.Secret, params.RawSeedToken)
	if err != nil {
		return NotABotInvalidSeed, nil
	}
	env := payload.Envelope

	if now.Unix() > env.ExpiresAt {
		return NotABotExpired, nil
	}

	if err := envelope.ValidateOrderingWindow(env, params.ExpectedStepID, params.ExpectedStepIndex, params.MaxStepWindow, now); err != nil {
		return NotABotSequenceViolation, nil
	}

	if err := envelope.ValidateRequestBinding(env, params.Binding); err != nil {
		return NotABotBindingMismatch, nil
	}

	if err := envelope.ValidateTimingPrimitives(ctx, store, env.FlowID, params.Binding.IPBucket, env, params.Timing, now); err != nil {
		return NotABotSequenceViolation, nil
	}

	if err := envelope.ValidateOperationReplay(ctx, store, env, params.ReplayTTL, now); err != nil {
		if err == envelope.ErrExpiredOperation {
			return NotABotExpired, nil
		}
		return NotABotReplay, nil
	}

	if !verifyTelemetrySignature(params.Secret, params.TelemetryPayload, params.TelemetrySignature) {
		return NotABotInvalidTelemetry, nil
	}

	if params.Botness >= params.BotnessFailThreshold {
		return NotABotFailedScore, nil
	}
	if params.Botness >= params.BotnessEscalateThreshold {
		return NotABotEscalatePuzzle, nil
	}
	return NotABotPass, nil
}

func verifyTelemetrySignature(secret, payload []byte, signatureB64 string) bool {
	sig, err := base64.RawURLEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, sig)
}
