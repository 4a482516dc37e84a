// Package cache memoizes read API responses in Redis and drops them after writes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/metrics"
)

// Key prefixes for cached log reads.
const (
	PrefixLogs = "logs:"
	PrefixLog  = "log:"
)

// Cache is a JSON key/value cache with a fixed TTL.
type Cache interface {
	// Get decodes the value at key into dst. ok is false on a miss.
	Get(ctx context.Context, key string, dst any) (ok bool, err error)
	Set(ctx context.Context, key string, v any) error
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
	// InvalidateLogs drops every cached log listing and single log.
	InvalidateLogs(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Key builds a cache key from a prefix and a hash of parts.
func Key(prefix string, parts any) string {
	b, err := json.Marshal(parts)
	if err != nil {
		return prefix
	}
	sum := sha256.Sum256(b)
	return prefix + hex.EncodeToString(sum[:8])
}

// Redis implements Cache on a go-redis client.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedis connects to redisURL (redis://host:port/db).
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	r := NewRedisFromClient(redis.NewClient(opts), ttl)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(c *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{
		client: c,
		ttl:    ttl,
		log:    zap.L().With(zap.String("component", "cache")),
	}
}

// Client exposes the underlying client for collaborators sharing the connection.
func (r *Redis) Client() *redis.Client { return r.client }

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "cache: get %s", key)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		// A stale or foreign value is treated as a miss.
		r.log.Debug("undecodable cache entry", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "cache: marshal %s", key)
	}
	return eris.Wrapf(r.client.Set(ctx, key, b, r.ttl).Err(), "cache: set %s", key)
}

// InvalidatePrefix deletes every key starting with prefix and returns how
// many were removed. Keys are found with SCAN so Redis is never blocked.
func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 500).Result()
		if err != nil {
			metrics.CacheInvalidations.WithLabelValues("error").Inc()
			return deleted, eris.Wrapf(err, "cache: scan %s*", prefix)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				metrics.CacheInvalidations.WithLabelValues("error").Inc()
				return deleted, eris.Wrapf(err, "cache: delete %s*", prefix)
			}
			deleted += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	metrics.CacheInvalidations.WithLabelValues("ok").Inc()
	return deleted, nil
}

// InvalidateLogs implements Cache.
func (r *Redis) InvalidateLogs(ctx context.Context) error {
	for _, p := range []string{PrefixLogs, PrefixLog} {
		n, err := r.InvalidatePrefix(ctx, p)
		if err != nil {
			return err
		}
		r.log.Debug("invalidated cache prefix", zap.String("prefix", p), zap.Int("keys", n))
	}
	return nil
}

// Ping implements Cache.
func (r *Redis) Ping(ctx context.Context) error {
	return eris.Wrap(r.client.Ping(ctx).Err(), "cache: ping")
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Noop is a Cache that stores nothing. It is used when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Noop) Set(context.Context, string, any) error                { return nil }
func (Noop) InvalidatePrefix(context.Context, string) (int, error) { return 0, nil }
func (Noop) InvalidateLogs(context.Context) error                  { return nil }
func (Noop) Ping(context.Context) error                            { return nil }
