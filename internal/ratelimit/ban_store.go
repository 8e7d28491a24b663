package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgegate/gate/internal/botness"
	"github.com/edgegate/gate/internal/kvstore"
)

// BanFingerprint summarizes the botness evidence that justified a ban, kept
// alongside the ban record for later audit.
type BanFingerprint struct {
	Score   uint8            `json:"score"`
	Signals []botness.Signal `json:"signals"`
	Summary string           `json:"summary"`
}

// BanRecord is the persisted ban for one (site, ip) pair.
type BanRecord struct {
	Reason      string         `json:"reason"`
	Fingerprint BanFingerprint `json:"fingerprint"`
	BannedAt    int64          `json:"banned_at"`
	ExpiresAt   int64          `json:"expires_at"`
}

// BanStore reads and writes ban records. Expired records are never
// reported as active, whether or not the backend has already evicted them.
type BanStore struct {
	store kvstore.Store
}

func NewBanStore(store kvstore.Store) *BanStore {
	return &BanStore{store: store}
}

func banKey(site, ip string) string {
	return fmt.Sprintf("ban:%s:%s", site, ip)
}

// IsBanned reports whether (site, ip) currently has an active, unexpired
// ban record.
func (b *BanStore) IsBanned(ctx context.Context, site, ip string, now time.Time) (bool, error) {
	raw, err := b.store.Get(ctx, banKey(site, ip))
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ratelimit: read ban record: %w", err)
	}
	var record BanRecord
	if jsonErr := json.Unmarshal(raw, &record); jsonErr != nil {
		return false, nil
	}
	if now.Unix() > record.ExpiresAt {
		return false, nil
	}
	return true, nil
}

// Ban writes (or idempotently overwrites, extending TTL) a ban record for
// (site, ip).
func (b *BanStore) Ban(ctx context.Context, site, ip, reason string, ttl time.Duration, fingerprint BanFingerprint, now time.Time) error {
	record := BanRecord{
		Reason:      reason,
		Fingerprint: fingerprint,
		BannedAt:    now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("ratelimit: marshal ban record: %w", err)
	}
	return b.store.Set(ctx, banKey(site, ip), raw, ttl)
}

// Unban removes any ban record for (site, ip).
func (b *BanStore) Unban(ctx context.Context, site, ip string) error {
	return b.store.Delete(ctx, banKey(site, ip))
}
