package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Remote is a Redis-backed response cache tier. Values round-trip as raw
// bytes; TTL is delegated to Redis's own expiry rather than the
// application-side timestamp Memory uses, since Redis already expires keys
// server-side.
type Remote struct {
	client *redis.Client
}

// NewRemote dials a Redis server at url (a redis:// or rediss:// URL, per
// go-redis's own URL parsing).
func NewRemote(url string) (*Remote, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Remote{client: redis.NewClient(opts)}, nil
}

// Get retrieves a value. Redis errors (including connection failures) are
// logged and treated as a cache miss rather than surfaced to the caller,
// since a slow/unavailable remote tier must never block a request.
func (r *Remote) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("remote cache get failed", "err", err)
		}
		return nil, false
	}
	return val, true
}

// Set stores a value with the given TTL.
func (r *Remote) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, val, ttl).Err(); err != nil {
		slog.Warn("remote cache set failed", "err", err)
	}
}

// Delete removes a value.
func (r *Remote) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		slog.Warn("remote cache delete failed", "err", err)
	}
}

// Purge flushes the current Redis database. Used only by the admin
// cache-purge endpoint; callers should prefer Delete for per-key eviction.
func (r *Remote) Purge(ctx context.Context) {
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		slog.Warn("remote cache purge failed", "err", err)
	}
}

// Ping checks connectivity, used as a health-check and to decide whether to
// degrade a Tiered cache to local-only.
func (r *Remote) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Remote) Close() error {
	return r.client.Close()
}
