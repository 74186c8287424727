package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard prevents duplicate processing of an event carrying the same
// replay_id within a TTL window (supplemented feature, SPEC_FULL.md §12 —
// spec.md §3 names replay_id but never specifies a consumer for it).
//
// When rdb is non-nil the guard is cluster-wide (backed by Redis SETNX with
// expiry); otherwise it falls back to an in-memory TTL cache, grounded on
// original_source's backend/storage/replay_guard.py.
type ReplayGuard struct {
	ttl time.Duration
	rdb *redis.Client

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewReplayGuard builds a guard with the given TTL. rdb may be nil, in which
// case the guard keeps its fingerprint cache in memory only (single-node).
func NewReplayGuard(ttl time.Duration, rdb *redis.Client) *ReplayGuard {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &ReplayGuard{
		ttl:  ttl,
		rdb:  rdb,
		seen: make(map[string]time.Time),
	}
}

// SeenBefore reports whether fingerprint was already marked seen and still
// within its TTL window, then marks it seen for future calls. A fingerprint
// is typically "<ingest_source>:<replay_id>"; callers should skip the guard
// entirely for events with no replay_id (there's nothing to dedup against).
func (g *ReplayGuard) SeenBefore(ctx context.Context, fingerprint string) bool {
	if fingerprint == "" {
		return false
	}

	if g.rdb != nil {
		key := "authguard:replay:" + fingerprint
		ok, err := g.rdb.SetNX(ctx, key, 1, g.ttl).Result()
		if err != nil {
			// Fail open: a Redis outage must never block ingest.
			return g.seenBeforeLocal(fingerprint)
		}
		// SetNX returns true when the key was newly set (i.e. not seen before).
		return !ok
	}

	return g.seenBeforeLocal(fingerprint)
}

func (g *ReplayGuard) seenBeforeLocal(fingerprint string) bool {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictLocked(now)

	if _, ok := g.seen[fingerprint]; ok {
		return true
	}
	g.seen[fingerprint] = now
	return false
}

func (g *ReplayGuard) evictLocked(now time.Time) {
	cutoff := now.Add(-g.ttl)
	for k, ts := range g.seen {
		if ts.Before(cutoff) {
			delete(g.seen, k)
		}
	}
}

// Clear resets the in-memory cache (tests / maintenance only; no-op against
// the Redis-backed path since TTL expiry already handles that).
func (g *ReplayGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = make(map[string]time.Time)
}
