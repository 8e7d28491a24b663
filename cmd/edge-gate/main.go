package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgegate/gate/internal/config"
	"github.com/edgegate/gate/internal/kvstore"
	"github.com/edgegate/gate/internal/maze"
	"github.com/edgegate/gate/internal/observability"
	"github.com/edgegate/gate/internal/ratelimit"
	"github.com/edgegate/gate/internal/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Get()

	store, err := openStore(cfg)
	if err != nil {
		slog.Warn("edgegate: redis unavailable, falling back to in-process store", "error", err)
		store = kvstore.NewMemStore()
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	secrets := resolveSecrets(cfg)

	gate := &router.Gate{
		Store:                store,
		Config:               cfg,
		PolicyCache:          config.NewPolicyCache(store, 30*time.Second),
		RateLimiter:          ratelimit.New(store, cfg.RateLimit.WindowSec, float64(cfg.RateLimit.BanThreshold)/float64(cfg.RateLimit.ThrottleLimit)),
		BanStore:             ratelimit.NewBanStore(store),
		Metrics:              metrics,
		EventSink:            observability.SlogSink{Logger: slog.Default()},
		ChallengeSecret:      secrets.challenge,
		JSSecret:             secrets.js,
		FPSecret:             secrets.fingerprint,
		MazeSecret:           secrets.maze,
		ExpansionSecret:      secrets.mazeExpansion,
		Site:                 getEnvOrDefault("EDGEGATE_SITE", "default"),
		ForwardedTrustSecret: optionalSecretBytes(os.Getenv("EDGEGATE_PROXY_TRUST_SECRET")),
		Honeypots:            splitEnvList("EDGEGATE_HONEYPOT_PATHS"),
		Origin:               originHandler(),
	}

	mazeSegment := maze.RouteSegment(gate.MazeSecret, gate.Site)
	server := router.NewServer(gate, mazeSegment)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("edgegate: received shutdown signal")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("edgegate: shutdown error", "error", err)
		}
	}()

	slog.Info("edgegate: starting", "port", cfg.Server.Port, "maze_route", gate.MazeRoute, "rollout_phase", cfg.Rollout.Phase)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("edgegate: server failed: %v", err)
	}
	slog.Info("edgegate: stopped")
}

func openStore(cfg *config.Config) (kvstore.Store, error) {
	return kvstore.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}

// originHandler builds the reverse proxy to the protected origin, or nil if
// none is configured (useful for running the gate standalone in tests).
func originHandler() http.Handler {
	raw := os.Getenv("EDGEGATE_ORIGIN_URL")
	if raw == "" {
		return nil
	}
	target, err := url.Parse(raw)
	if err != nil {
		slog.Error("edgegate: invalid EDGEGATE_ORIGIN_URL", "error", err)
		return nil
	}
	return httputil.NewSingleHostReverseProxy(target)
}

// derivedSecrets holds the purpose-scoped keys the gate signs and verifies
// tokens with.
type derivedSecrets struct {
	challenge     []byte
	js            []byte
	fingerprint   []byte
	maze          []byte
	mazeExpansion []byte
}

// resolveSecrets builds the gate's signing keys. When EDGEGATE_MASTER_SECRET
// is set, every purpose key is derived from it via HKDF so an operator only
// has to rotate one value; otherwise each purpose uses its own configured
// secret. Without a master secret the challenge secret is required and the
// process exits when it is unset; the other purposes fall back to dev
// defaults.
func resolveSecrets(cfg *config.Config) derivedSecrets {
	if master := os.Getenv("EDGEGATE_MASTER_SECRET"); master != "" {
		root := []byte(master)
		return derivedSecrets{
			challenge:     config.DeriveSecret(root, "challenge"),
			js:            config.DeriveSecret(root, "js-verified"),
			fingerprint:   config.DeriveSecret(root, "fingerprint"),
			maze:          config.DeriveSecret(root, "maze-route"),
			mazeExpansion: config.DeriveSecret(root, "maze-expansion"),
		}
	}
	if cfg.Secrets.ChallengeSecret == "" {
		log.Fatal("edgegate: no master or challenge secret configured; refusing to start")
	}
	return derivedSecrets{
		challenge:     []byte(cfg.Secrets.ChallengeSecret),
		js:            secretBytes(cfg.Secrets.JSSecret, "dev-js-secret"),
		fingerprint:   secretBytes(cfg.Secrets.FingerprintSecret, "dev-fingerprint-secret"),
		maze:          secretBytes(cfg.Secrets.MazeExpansionSecret, "dev-maze-secret"),
		mazeExpansion: secretBytes(cfg.Secrets.MazeExpansionSecret, "dev-maze-secret"),
	}
}

func secretBytes(configured, devFallback string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	return []byte(devFallback)
}

func optionalSecretBytes(configured string) []byte {
	if configured == "" {
		return nil
	}
	return []byte(configured)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
