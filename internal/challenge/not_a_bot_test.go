package challenge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/gate/internal/envelope"
	"github.com/edgegate/gate/internal/kvstore"
)

func signTelemetry(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestSubmitNotABotPassesOnLowBotness(t *testing.T) {
	store := kvstore.NewMemStore()
	now := time.Now()
	token, binding := issueTestSeedToken(t, now, 1)
	telemetry := []byte(`{"t":1}`)

	outcome, err := SubmitNotABot(context.Background(), store, NotABotParams{
		Secret:                   testSecret,
		RawSeedToken:             token,
		TelemetryPayload:         telemetry,
		TelemetrySignature:       signTelemetry(testSecret, telemetry),
		Binding:                  binding,
		ExpectedStepID:           "challenge_puzzle_submit",
		ExpectedStepIndex:        2,
		AttemptBucket:            "ipb-nab",
		MaxAttempts:              5,
		AttemptWindow:            time.Minute,
		MaxStepWindow:            time.Hour,
		Timing:                   defaultTiming(),
		ReplayTTL:                time.Minute,
		Botness:                  1,
		BotnessFailThreshold:     8,
		BotnessEscalateThreshold: 5,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, NotABotPass, outcome)
}

func TestSubmitNotABotEscalatesOnMidBotness(t *testing.T) {
	store := kvstore.NewMemStore()
	now := time.Now()
	token, binding := issueTestSeedToken(t, now, 2)
	telemetry := []byte(`{"t":1}`)

	outcome, err := SubmitNotABot(context.Background(), store, NotABotParams{
		Secret:                   testSecret,
		RawSeedToken:             token,
		TelemetryPayload:         telemetry,
		TelemetrySignature:       signTelemetry(testSecret, telemetry),
		Binding:                  binding,
		ExpectedStepID:           "challenge_puzzle_submit",
		ExpectedStepIndex:        2,
		AttemptBucket:            "ipb-nab2",
		MaxAttempts:              5,
		AttemptWindow:            time.Minute,
		MaxStepWindow:            time.Hour,
		Timing:                   defaultTiming(),
		ReplayTTL:                time.Minute,
		Botness:                  6,
		BotnessFailThreshold:     8,
		BotnessEscalateThreshold: 5,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, NotABotEscalatePuzzle, outcome)
}

func TestSubmitNotABotFailsOnHighBotness(t *testing.T) {
	store := kvstore.NewMemStore()
	now := time.Now()
	token, binding := issueTestSeedToken(t, now, 3)
	telemetry := []byte(`{"t":1}`)

	outcome, err := SubmitNotABot(context.Background(), store, NotABotParams{
		Secret:                   testSecret,
		RawSeedToken:             token,
		TelemetryPayload:         telemetry,
		TelemetrySignature:       signTelemetry(testSecret, telemetry),
		Binding:                  binding,
		ExpectedStepID:           "challenge_puzzle_submit",
		ExpectedStepIndex:        2,
		AttemptBucket:            "ipb-nab3",
		MaxAttempts:              5,
		AttemptWindow:            time.Minute,
		MaxStepWindow:            time.Hour,
		Timing:                   defaultTiming(),
		ReplayTTL:                time.Minute,
		Botness:                  9,
		BotnessFailThreshold:     8,
		BotnessEscalateThreshold: 5,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, NotABotFailedScore, outcome)
}

func TestSubmitNotABotRejectsInvalidTelemetry(t *testing.T) {
	store := kvstore.NewMemStore()
	now := time.Now()
	token, binding := issueTestSeedToken(t, now, 4)

	outcome, err := SubmitNotABot(context.Background(), store, NotABotParams{
		Secret:                   testSecret,
		RawSeedToken:             token,
		TelemetryPayload:         []byte(`{"t":1}`),
		TelemetrySignature:       "bad-signature",
		Binding:                  binding,
		ExpectedStepID:           "challenge_puzzle_submit",
		ExpectedStepIndex:        2,
		AttemptBucket:            "ipb-nab4",
		MaxAttempts:              5,
		AttemptWindow:            time.Minute,
		MaxStepWindow:            time.Hour,
		Timing:                   defaultTiming(),
		ReplayTTL:                time.Minute,
		BotnessFailThreshold:     8,
		BotnessEscalateThreshold: 5,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, NotABotInvalidTelemetry, outcome)
}

func TestSubmitNotABotMissingSeedToken(t *testing.T) {
	store := kvstore.NewMemStore()
	now := time.Now()

	outcome, err := SubmitNotABot(context.Background(), store, NotABotParams{
		Secret:        testSecret,
		RawSeedToken:  "",
		Binding:       envelope.Binding{},
		AttemptBucket: "ipb-nab5",
		MaxAttempts:   5,
		AttemptWindow: time.Minute,
		MaxStepWindow: time.Hour,
		Timing:        defaultTiming(),
		ReplayTTL:     time.Minute,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, NotABotMissingSeed, outcome)
}
