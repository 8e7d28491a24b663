package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/gate/internal/config"
	"github.com/edgegate/gate/internal/kvstore"
	"github.com/edgegate/gate/internal/observability"
	"github.com/edgegate/gate/internal/ratelimit"
)

func testGate(t *testing.T) *Gate {
	t.Helper()
	cfg := &config.Config{}
	cfg.RateLimit.WindowSec = 60
	cfg.RateLimit.RequestLimit = 100
	cfg.RateLimit.ThrottleLimit = 150
	cfg.RateLimit.BanThreshold = 300
	cfg.RateLimit.BanTTLSec = 3600
	cfg.Maze.Enabled = true
	cfg.Fingerprint.FlowWindowSec = 60
	cfg.Fingerprint.FlowMismatchThreshold = 3
	cfg.Fingerprint.TemporalHalfWindowSec = 30
	cfg.Fingerprint.StateTTLSec = 900
	cfg.Rollout.Phase = "enforce"

	store := kvstore.NewMemStore()
	return &Gate{
		Store:       store,
		Config:      cfg,
		PolicyCache: config.NewPolicyCache(store, time.Minute),
		RateLimiter: ratelimit.New(store, cfg.RateLimit.WindowSec, 2.0),
		BanStore:    ratelimit.NewBanStore(store),
		Metrics:     observability.NewMetrics(prometheusRegistryForTest(t)),
		EventSink:   observability.NopSink{},
		FPSecret:    []byte("test-fp-secret"),
		Site:        "test-site",
		MazeRoute:   "/_/abcdef012345",
	}
}

func TestEvaluateForwardsCleanRequest(t *testing.T) {
	gate := testGate(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")

	decision, _, err := gate.Evaluate(req.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionForward, decision)
}

func TestEvaluateBlocksBannedIP(t *testing.T) {
	gate := testGate(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:1234"

	require.NoError(t, gate.BanStore.Ban(req.Context(), gate.Site, "203.0.113.5", "test", time.Hour, ratelimit.BanFingerprint{}, time.Now()))

	decision, _, err := gate.Evaluate(req.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)
}

func TestEvaluateChallengesHoneypotPath(t *testing.T) {
	gate := testGate(t)
	gate.Honeypots = []string{"/wp-admin/setup.php"}
	req := httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil)

	decision, _, err := gate.Evaluate(req.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionChallenge, decision)
}

func TestExtractIPPrefersVerifiedForwardedHeader(t *testing.T) {
	gate := testGate(t)
	gate.ForwardedTrustSecret = []byte("proxy-trust")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	req.Header.Set(forwardedIPHeader, "198.51.100.9")
	req.Header.Set(forwardedSigHeader, signForTest(gate.ForwardedTrustSecret, "198.51.100.9"))

	rc := gate.buildContext(req)
	assert.Equal(t, "198.51.100.9", rc.ip)
}

func TestExtractIPIgnoresUnsignedForwardedHeader(t *testing.T) {
	gate := testGate(t)
	gate.ForwardedTrustSecret = []byte("proxy-trust")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	req.Header.Set(forwardedIPHeader, "198.51.100.9")

	rc := gate.buildContext(req)
	assert.Equal(t, "10.0.0.1", rc.ip)
}

func TestIsMazePath(t *testing.T) {
	gate := testGate(t)
	assert.True(t, gate.IsMazePath("/_/abcdef012345/segment-1"))
	assert.False(t, gate.IsMazePath("/favicon.ico"))
}
