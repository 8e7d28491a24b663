package router

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/edgegate/gate/internal/challenge"
	"github.com/edgegate/gate/internal/envelope"
)

// puzzleOutcomeStatus maps a puzzle outcome to the HTTP status a client
// should see: 200 for a solve (which the caller answers with a 303 redirect
// instead), 429 past the attempt limit, 422 for a wrong or malformed
// answer, and 403 for every structural or binding failure.
func puzzleOutcomeStatus(o challenge.SubmitOutcome) int {
	switch o {
	case challenge.OutcomeSolved:
		return http.StatusOK
	case challenge.OutcomeAttemptLimitExceeded:
		return http.StatusTooManyRequests
	case challenge.OutcomeIncorrect, challenge.OutcomeInvalidOutput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusForbidden
	}
}

func notABotOutcomeStatus(o challenge.NotABotOutcome) int {
	switch o {
	case challenge.NotABotPass:
		return http.StatusSeeOther
	case challenge.NotABotEscalatePuzzle:
		return http.StatusOK
	case challenge.NotABotAttemptLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

// HandlePuzzleGet issues a fresh puzzle challenge page: a signed seed token
// embedding a mint-fresh operation envelope and a deterministic grid.
func (g *Gate) HandlePuzzleGet(w http.ResponseWriter, r *http.Request) {
	rc := g.buildContext(r)
	now := rc.now

	_, env, err := envelope.Mint(g.ChallengeSecret, envelope.MintParams{
		FlowID:       flowIdentity(rc),
		StepID:       "puzzle_submit",
		StepIndex:    1,
		TokenVersion: g.Config.Envelope.TokenVersion,
		TTL:          time.Duration(g.Config.Challenge.PuzzleTTLSec) * time.Second,
		Binding: envelope.Binding{
			IPBucket:  rc.ipBucket,
			UABucket:  rc.uaBucket,
			PathClass: rc.pathClass,
		},
	}, now)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	seed := challenge.BuildPuzzleGrid(deriveSeed(env.OperationID))
	payload := challenge.SeedPayload{Envelope: env, Seed: seed.Seed}
	seedToken, err := challenge.MakeSeedToken(g.ChallengeSecret, payload)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"seed_token": seedToken,
		"grid":       seed.Values,
	})
}

// HandlePuzzlePost validates a puzzle submission.
func (g *Gate) HandlePuzzlePost(w http.ResponseWriter, r *http.Request) {
	rc := g.buildContext(r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	params := challenge.SubmitParams{
		Secret:            g.ChallengeSecret,
		RawSeedToken:      r.FormValue("seed_token"),
		SubmittedOutput:   r.FormValue("output"),
		ExpectedStepID:    "puzzle_submit",
		ExpectedStepIndex: 1,
		Binding: envelope.Binding{
			IPBucket:  rc.ipBucket,
			UABucket:  rc.uaBucket,
			PathClass: rc.pathClass,
		},
		AttemptBucket: rc.ipBucket,
		MaxAttempts:   g.Config.Challenge.MaxSubmitAttempts,
		AttemptWindow: time.Duration(g.Config.RateLimit.WindowSec) * time.Second,
		MaxStepWindow: time.Duration(g.Config.Envelope.OrderingWindowSec) * time.Second,
		Timing:        g.timingThresholds(),
		ReplayTTL:     time.Duration(g.Config.Challenge.PuzzleTTLSec) * time.Second,
	}

	outcome, err := challenge.Submit(r.Context(), g.Store, params, rc.now)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	g.Metrics.RecordChallenge("puzzle", string(outcome))

	if outcome == challenge.OutcomeSolved {
		setPassCookies(w, g.JSSecret, rc.ip)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	w.WriteHeader(puzzleOutcomeStatus(outcome))
}

// HandleNotABotGet issues a not-a-bot challenge: a signed seed token the
// client echoes back with click telemetry.
func (g *Gate) HandleNotABotGet(w http.ResponseWriter, r *http.Request) {
	rc := g.buildContext(r)
	_, env, err := envelope.Mint(g.ChallengeSecret, envelope.MintParams{
		FlowID:       flowIdentity(rc),
		StepID:       "not_a_bot_submit",
		StepIndex:    1,
		TokenVersion: g.Config.Envelope.TokenVersion,
		TTL:          time.Duration(g.Config.Challenge.NotABotTTLSec) * time.Second,
		Binding: envelope.Binding{
			IPBucket:  rc.ipBucket,
			UABucket:  rc.uaBucket,
			PathClass: rc.pathClass,
		},
	}, rc.now)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	payload := challenge.SeedPayload{Envelope: env}
	seedToken, err := challenge.MakeSeedToken(g.ChallengeSecret, payload)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"seed_token": seedToken})
}

// HandleNotABotPost validates a not-a-bot click submission.
func (g *Gate) HandleNotABotPost(w http.ResponseWriter, r *http.Request) {
	rc := g.buildContext(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var req struct {
		SeedToken          string `json:"seed_token"`
		TelemetrySignature string `json:"telemetry_signature"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	score, _, err := g.collectSignals(r.Context(), r, rc)
	if err != nil && !g.Config.Rollout.FailOpenOnKVError {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	params := challenge.NotABotParams{
		Secret:             g.ChallengeSecret,
		RawSeedToken:       req.SeedToken,
		TelemetrySignature: req.TelemetrySignature,
		TelemetryPayload:   body,
		Binding: envelope.Binding{
			IPBucket:  rc.ipBucket,
			UABucket:  rc.uaBucket,
			PathClass: rc.pathClass,
		},
		ExpectedStepID:           "not_a_bot_submit",
		ExpectedStepIndex:        1,
		AttemptBucket:            rc.ipBucket,
		MaxAttempts:              g.Config.Challenge.MaxSubmitAttempts,
		AttemptWindow:            time.Duration(g.Config.RateLimit.WindowSec) * time.Second,
		MaxStepWindow:            time.Duration(g.Config.Envelope.OrderingWindowSec) * time.Second,
		Timing:                   g.timingThresholds(),
		ReplayTTL:                time.Duration(g.Config.Challenge.NotABotTTLSec) * time.Second,
		Botness:                  score,
		BotnessFailThreshold:     botnessBlockThreshold,
		BotnessEscalateThreshold: botnessMazeThreshold,
	}

	outcome, err := challenge.SubmitNotABot(r.Context(), g.Store, params, rc.now)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	g.Metrics.RecordChallenge("not_a_bot", string(outcome))

	if outcome == challenge.NotABotPass {
		setPassCookies(w, g.JSSecret, rc.ip)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	w.WriteHeader(notABotOutcomeStatus(outcome))
}

func flowIdentity(rc requestContext) string {
	return rc.ipBucket + ":" + rc.uaBucket
}

func deriveSeed(operationID string) uint64 {
	sum := sha256.Sum256([]byte(operationID))
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(sum[i])
	}
	return v
}

// setPassCookies sets the legacy JS-verified marker (HMAC(ip)) and the
// persistence marker a successful challenge leaves behind.
func setPassCookies(w http.ResponseWriter, jsSecret []byte, ip string) {
	mac := hmac.New(sha256.New, jsSecret)
	mac.Write([]byte(ip))
	jsValue := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	http.SetCookie(w, &http.Cookie{
		Name:     jsVerifiedCookieName,
		Value:    jsValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     persistenceCookieName,
		Value:    "1",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400 * 30,
	})
}

func (g *Gate) timingThresholds() envelope.TimingThresholds {
	return envelope.TimingThresholds{
		MinStepLatency:   time.Duration(g.Config.Envelope.MinStepIntervalMs) * time.Millisecond,
		MaxStepLatency:   time.Duration(g.Config.Envelope.MaxStepIntervalMs) * time.Millisecond,
		MaxFlowAge:       time.Duration(g.Config.Envelope.OrderingWindowSec) * time.Second,
		RegularityWindow: 3,
		RegularitySpread: 10 * time.Millisecond,
		HistoryTTL:       time.Duration(g.Config.Envelope.OrderingWindowSec) * time.Second,
	}
}
