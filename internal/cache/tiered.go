package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DegradeCounter is incremented each time the Tiered cache falls back to
// local-only because the remote tier is unreachable. Satisfied by a
// prometheus.Counter's Inc method.
type DegradeCounter interface {
	Inc()
}

// Tiered composes a local (otter) cache with an optional remote (Redis)
// cache: reads check local first, then remote on miss (populating local);
// writes go to both. Concurrent remote reads for the same key are coalesced
// via singleflight so a cold key under load triggers one remote round trip.
// If the remote tier's health check fails, Tiered degrades to local-only
// until the next successful check.
type Tiered struct {
	local   *Memory
	remote  *Remote
	group   singleflight.Group
	degrade DegradeCounter

	healthy atomic.Bool
}

// NewTiered composes local and remote into a Tiered cache. remote may be
// nil, in which case Tiered behaves exactly like local alone. degrade may be
// nil to skip metrics.
func NewTiered(local *Memory, remote *Remote, degrade DegradeCounter) *Tiered {
	t := &Tiered{local: local, remote: remote, degrade: degrade}
	t.healthy.Store(remote != nil)
	return t
}

// Get checks local, then remote (coalesced), populating local on a remote hit.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := t.local.Get(ctx, key); ok {
		return v, true
	}
	if t.remote == nil || !t.healthy.Load() {
		return nil, false
	}

	v, err, _ := t.group.Do(key, func() (any, error) {
		val, ok := t.remote.Get(ctx, key)
		if !ok {
			return nil, nil
		}
		return val, nil
	})
	if err != nil || v == nil {
		return nil, false
	}
	data := v.([]byte)
	// Populate local with a conservative short TTL; the remote entry's own
	// expiry is authoritative.
	t.local.Set(ctx, key, data, 30*time.Second)
	return data, true
}

// Set writes through to both tiers.
func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	t.local.Set(ctx, key, val, ttl)
	if t.remote != nil && t.healthy.Load() {
		t.remote.Set(ctx, key, val, ttl)
	}
}

// Delete removes the key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) {
	t.local.Delete(ctx, key)
	if t.remote != nil && t.healthy.Load() {
		t.remote.Delete(ctx, key)
	}
}

// Purge clears both tiers.
func (t *Tiered) Purge(ctx context.Context) {
	t.local.Purge(ctx)
	if t.remote != nil && t.healthy.Load() {
		t.remote.Purge(ctx)
	}
}

// CheckHealth pings the remote tier and updates the degraded flag,
// incrementing the degrade counter on each transition into degraded state.
// Intended to be called periodically from a background goroutine.
func (t *Tiered) CheckHealth(ctx context.Context) {
	if t.remote == nil {
		return
	}
	err := t.remote.Ping(ctx)
	wasHealthy := t.healthy.Swap(err == nil)
	if err != nil {
		if wasHealthy {
			slog.Warn("remote cache unreachable, degrading to local-only", "err", err)
			if t.degrade != nil {
				t.degrade.Inc()
			}
		}
		return
	}
	if !wasHealthy {
		slog.Info("remote cache reachable again, resuming tiered reads")
	}
}
