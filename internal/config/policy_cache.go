package config

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
)

// SiteOverride holds the subset of tunables that can be overridden per
// site/tenant, loaded from the KV store and merged on top of the base
// Config. Zero values mean "no override, use base".
type SiteOverride struct {
	MazeEnabled        *bool   `json:"maze_enabled,omitempty"`
	RolloutPhase       *string `json:"rollout_phase,omitempty"`
	RequestLimit       *int    `json:"request_limit,omitempty"`
	BanThreshold       *int    `json:"ban_threshold,omitempty"`
	FingerprintEnabled *bool   `json:"fingerprint_enabled,omitempty"`
}

type cacheEntry struct {
	override  SiteOverride
	expiresAt time.Time
}

// PolicyCache is a read-through, short-TTL cache of per-site config
// overrides backed by the KV store. It exists so the hot request path
// doesn't hit the KV store for config on every request, while still
// letting an operator change policy without a redeploy — Invalidate
// forces the next read to refetch.
type PolicyCache struct {
	mu    sync.RWMutex
	cache map[string]cacheEntry
	store kvstore.Store
	ttl   time.Duration
}

// NewPolicyCache returns a cache reading overrides from store with the
// given TTL. A TTL of zero defaults to 30 seconds.
func NewPolicyCache(store kvstore.Store, ttl time.Duration) *PolicyCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PolicyCache{
		cache: make(map[string]cacheEntry),
		store: store,
		ttl:   ttl,
	}
}

func siteOverrideKey(site string) string {
	return "config:override:" + site
}

// Get returns the override for site, either from cache or by fetching it
// from the KV store on a miss/expiry. A missing KV key is treated as an
// empty override, not an error.
func (p *PolicyCache) Get(ctx context.Context, site string) (SiteOverride, error) {
	p.mu.RLock()
	entry, ok := p.cache[site]
	p.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.override, nil
	}

	var override SiteOverride
	raw, err := p.store.Get(ctx, siteOverrideKey(site))
	if err != nil && err != kvstore.ErrNotFound {
		return SiteOverride{}, err
	}
	if err == nil {
		if jsonErr := json.Unmarshal(raw, &override); jsonErr != nil {
			return SiteOverride{}, jsonErr
		}
	}

	p.mu.Lock()
	p.cache[site] = cacheEntry{override: override, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()
	return override, nil
}

// Invalidate evicts a site's cached override so the next Get refetches it
// from the KV store immediately.
func (p *PolicyCache) Invalidate(site string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, site)
}

// Apply merges an override on top of the base config's mutable tunables,
// returning a new Config value rather than mutating base.
func Apply(base Config, override SiteOverride) Config {
	merged := base
	if override.MazeEnabled != nil {
		merged.Maze.Enabled = *override.MazeEnabled
	}
	if override.RolloutPhase != nil {
		merged.Rollout.Phase = *override.RolloutPhase
	}
	if override.RequestLimit != nil {
		merged.RateLimit.RequestLimit = *override.RequestLimit
	}
	if override.BanThreshold != nil {
		merged.RateLimit.BanThreshold = *override.BanThreshold
	}
	if override.FingerprintEnabled != nil {
		merged.Fingerprint.Enabled = *override.FingerprintEnabled
	}
	return merged
}
