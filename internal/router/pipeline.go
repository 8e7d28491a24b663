// Package router implements the enforcement pipeline: the per-request
// decision sequence that turns a raw HTTP request into forward / challenge
// / maze / block, wired as gorilla/mux HTTP handlers.
package router

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/edgegate/gate/internal/botness"
	"github.com/edgegate/gate/internal/config"
	"github.com/edgegate/gate/internal/fingerprint"
	"github.com/edgegate/gate/internal/identity"
	"github.com/edgegate/gate/internal/kvstore"
	"github.com/edgegate/gate/internal/observability"
	"github.com/edgegate/gate/internal/ratelimit"
)

// Decision is the enforcement pipeline's terminal classification for one
// request.
type Decision string

const (
	DecisionForward   Decision = "forward"
	DecisionChallenge Decision = "challenge"
	DecisionMaze      Decision = "maze"
	DecisionBlock     Decision = "block"
)

// Gate wires every subsystem package behind the enforcement pipeline and
// exposes gorilla/mux handlers for the HTTP surface.
type Gate struct {
	Store                kvstore.Store
	Config               *config.Config
	PolicyCache          *config.PolicyCache
	RateLimiter          *ratelimit.Limiter
	BanStore             *ratelimit.BanStore
	Metrics              *observability.Metrics
	EventSink            observability.Sink
	ChallengeSecret      []byte
	JSSecret             []byte
	FPSecret             []byte
	MazeSecret           []byte
	ExpansionSecret      []byte
	MazeRoute            string
	Site                 string
	ForwardedTrustSecret []byte
	Origin               http.Handler
	Honeypots            []string
}

// requestContext is the set of request-derived values computed once at the
// top of the pipeline and threaded through every later step.
type requestContext struct {
	ip        string
	ipBucket  string
	uaBucket  string
	pathClass string
	path      string
	now       time.Time
}

func (g *Gate) buildContext(r *http.Request) requestContext {
	ip := extractIP(r, g.ForwardedTrustSecret)
	return requestContext{
		ip:        ip,
		ipBucket:  identity.BucketIP(ip),
		uaBucket:  identity.BucketUA(r.UserAgent()),
		pathClass: identity.ClassifyPath(r.URL.Path),
		path:      r.URL.Path,
		now:       time.Now(),
	}
}

// extractIP returns the direct remote address unless a forwarded-header
// trust secret is configured and the request carries a header signed with
// it (the X-Edge-Client-IP / X-Edge-Client-IP-Sig pair in forwarded.go),
// so an unsigned forwarded IP is never trusted.
func extractIP(r *http.Request, trustSecret []byte) string {
	if len(trustSecret) > 0 {
		if verified := verifyForwardedHeader(r, trustSecret); verified != "" {
			return verified
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Evaluate runs the enforcement pipeline for a non-asset,
// non-special-path, non-maze request: ban check, rate check, honeypot
// match, signal collection and scoring, then the threshold decision.
func (g *Gate) Evaluate(ctx context.Context, r *http.Request) (Decision, requestContext, error) {
	rc := g.buildContext(r)

	banned, err := g.BanStore.IsBanned(ctx, g.Site, rc.ip, rc.now)
	if err != nil && !g.Config.Rollout.FailOpenOnKVError {
		return "", rc, err
	}
	if banned {
		return DecisionBlock, rc, nil
	}

	rateResult, err := g.RateLimiter.Check(ctx, rc.ipBucket, g.effectiveRequestLimit(ctx, r), rc.now)
	if err != nil && !g.Config.Rollout.FailOpenOnKVError {
		return "", rc, err
	}
	switch rateResult.Decision {
	case ratelimit.BanWorthy:
		_ = g.BanStore.Ban(ctx, g.Site, rc.ip, "rate_ban_worthy", time.Duration(g.Config.RateLimit.BanTTLSec)*time.Second, ratelimit.BanFingerprint{}, rc.now)
		g.Metrics.RecordBanAction("ban")
		return DecisionBlock, rc, nil
	case ratelimit.Throttle:
		return DecisionChallenge, rc, nil
	}

	if g.matchesHoneypot(rc.path) {
		_ = g.BanStore.Ban(ctx, g.Site, rc.ip, "honeypot", time.Duration(g.Config.RateLimit.BanTTLSec)*time.Second, ratelimit.BanFingerprint{}, rc.now)
		g.Metrics.RecordBanAction("ban")
		return DecisionChallenge, rc, nil
	}

	score, signals, err := g.collectSignals(ctx, r, rc)
	if err != nil && !g.Config.Rollout.FailOpenOnKVError {
		return "", rc, err
	}

	mazeEnabled := g.effectiveConfig(ctx).Maze.Enabled
	decision := g.decide(score, mazeEnabled)
	if decision != DecisionForward {
		_ = signals
	}
	return decision, rc, nil
}

func (g *Gate) effectiveConfig(ctx context.Context) config.Config {
	override, err := g.PolicyCache.Get(ctx, g.Site)
	if err != nil {
		return *g.Config
	}
	return config.Apply(*g.Config, override)
}

func (g *Gate) effectiveRequestLimit(ctx context.Context, r *http.Request) int {
	return g.effectiveConfig(ctx).RateLimit.RequestLimit
}

func (g *Gate) matchesHoneypot(path string) bool {
	for _, h := range g.Honeypots {
		if h == path {
			return true
		}
	}
	return false
}

func (g *Gate) collectSignals(ctx context.Context, r *http.Request, rc requestContext) (uint8, []botness.Signal, error) {
	evidence := fingerprint.Evidence{
		UserAgent:            r.UserAgent(),
		SecChUA:              r.Header.Get("Sec-CH-UA"),
		SecChUAMobile:        r.Header.Get("Sec-CH-UA-Mobile"),
		SecChTransportFamily: r.Header.Get("X-Edge-Transport-Family"),
		SecChTransportJA4:    r.Header.Get("X-Edge-Transport-JA4"),
		SecChTransportScore:  r.Header.Get("X-Edge-Transport-Score"),
		HeadersTrusted:       len(g.ForwardedTrustSecret) > 0,
		JSVerifiedCookie:     cookiePresent(r, jsVerifiedCookieName),
		PersistenceCookie:    cookiePresent(r, persistenceCookieName),
	}
	policy := fingerprint.Policy{
		FlowWindowSec:         g.Config.Fingerprint.FlowWindowSec,
		FlowMismatchThreshold: g.Config.Fingerprint.FlowMismatchThreshold,
		TemporalHalfWindowSec: g.Config.Fingerprint.TemporalHalfWindowSec,
		StateTTL:              time.Duration(g.Config.Fingerprint.StateTTLSec) * time.Second,
	}
	identityKey := identity.PseudonymizeIdentity(string(g.FPSecret), rc.ip, g.Config.Fingerprint.PseudonymizeIP)

	signals, err := fingerprint.CollectBotSignals(ctx, g.Store, evidence, policy, identityKey, rc.now)
	if err != nil {
		return 0, nil, err
	}

	acc := botness.NewAccumulator()
	for _, s := range signals {
		acc.Push(s)
	}
	score, ordered := acc.Finish()
	return score, ordered, nil
}

func (g *Gate) decide(score uint8, mazeEnabled bool) Decision {
	if score >= botnessBlockThreshold {
		return DecisionChallenge
	}
	if score >= botnessMazeThreshold {
		if mazeEnabled {
			return DecisionMaze
		}
		return DecisionChallenge
	}
	return DecisionForward
}

const (
	botnessMazeThreshold  = 4
	botnessBlockThreshold = 7

	jsVerifiedCookieName  = "js_verified"
	persistenceCookieName = "fp_persist"
)

func cookiePresent(r *http.Request, name string) bool {
	_, err := r.Cookie(name)
	return err == nil
}

// IsMazePath reports whether path falls under this gate's maze route
// namespace, computed from the configured mount secret rather than a fixed
// literal so the mount point can't be guessed.
func (g *Gate) IsMazePath(path string) bool {
	return len(path) >= len(g.MazeRoute) && path[:len(g.MazeRoute)] == g.MazeRoute
}
