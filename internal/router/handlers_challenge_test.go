package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/gate/internal/challenge"
)

func challengeGate(t *testing.T) *Gate {
	t.Helper()
	gate := testGate(t)
	gate.ChallengeSecret = []byte("challenge-secret")
	gate.JSSecret = []byte("js-secret")
	gate.Config.Challenge.PuzzleTTLSec = 120
	gate.Config.Challenge.NotABotTTLSec = 60
	gate.Config.Challenge.MaxSubmitAttempts = 5
	gate.Config.Envelope.TokenVersion = 1
	gate.Config.Envelope.OrderingWindowSec = 300
	gate.Config.Envelope.MinStepIntervalMs = 0
	gate.Config.Envelope.MaxStepIntervalMs = 120_000
	return gate
}

func TestHandlePuzzleGetIssuesSeedToken(t *testing.T) {
	gate := challengeGate(t)
	req := httptest.NewRequest(http.MethodGet, "/_edgegate/challenge/puzzle", nil)
	rec := httptest.NewRecorder()

	gate.HandlePuzzleGet(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		SeedToken string `json:"seed_token"`
		Grid      []int  `json:"grid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.SeedToken)
	assert.Len(t, body.Grid, 6)

	payload, err := challenge.ParseSeedToken(gate.ChallengeSecret, body.SeedToken)
	require.NoError(t, err)
	assert.Equal(t, "puzzle_submit", payload.Envelope.StepID)
}

func TestHandlePuzzlePostSolvesAndSetsCookies(t *testing.T) {
	gate := challengeGate(t)
	getReq := httptest.NewRequest(http.MethodGet, "/_edgegate/challenge/puzzle", nil)
	getRec := httptest.NewRecorder()
	gate.HandlePuzzleGet(getRec, getReq)

	var body struct {
		SeedToken string `json:"seed_token"`
	}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &body))

	payload, err := challenge.ParseSeedToken(gate.ChallengeSecret, body.SeedToken)
	require.NoError(t, err)
	grid := challenge.BuildPuzzleGrid(payload.Seed)

	form := url.Values{}
	form.Set("seed_token", body.SeedToken)
	form.Set("output", grid.ExpectedOutput)
	postReq := httptest.NewRequest(http.MethodPost, "/_edgegate/challenge/puzzle", strings.NewReader(form.Encode()))
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postRec := httptest.NewRecorder()

	gate.HandlePuzzlePost(postRec, postReq)

	assert.Equal(t, http.StatusSeeOther, postRec.Code)
	cookies := postRec.Result().Cookies()
	var names []string
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, persistenceCookieName)
	assert.Contains(t, names, jsVerifiedCookieName)
}

func TestHandlePuzzlePostIncorrectOutput(t *testing.T) {
	gate := challengeGate(t)
	getReq := httptest.NewRequest(http.MethodGet, "/_edgegate/challenge/puzzle", nil)
	getRec := httptest.NewRecorder()
	gate.HandlePuzzleGet(getRec, getReq)

	var body struct {
		SeedToken string `json:"seed_token"`
	}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &body))

	form := url.Values{}
	form.Set("seed_token", body.SeedToken)
	form.Set("output", "not-the-answer")
	postReq := httptest.NewRequest(http.MethodPost, "/_edgegate/challenge/puzzle", strings.NewReader(form.Encode()))
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postRec := httptest.NewRecorder()

	gate.HandlePuzzlePost(postRec, postReq)

	assert.Equal(t, http.StatusUnprocessableEntity, postRec.Code)
}
