package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"hivelog/pkg/platform/audit"
)

const (
	DefaultCountTTL = 30 * time.Second
	countKeyPrefix  = "hivelog:count:"
)

// CountCache keeps count aggregates in Redis for a short time. A nil
// *CountCache is valid and never hits. Redis failures count as misses.
type CountCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewCountCache creates a cache. A zero ttl uses DefaultCountTTL.
func NewCountCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CountCache {
	if ttl <= 0 {
		ttl = DefaultCountTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CountCache{client: client, ttl: ttl, logger: logger}
}

// CountKey derives the cache key for one kind and filter.
func CountKey(kind audit.Kind, f audit.Filter) string {
	data, _ := json.Marshal(f)
	sum := sha256.Sum256(data)
	return countKeyPrefix + string(kind) + ":" + hex.EncodeToString(sum[:])
}

func (c *CountCache) Get(ctx context.Context, kind audit.Kind, f audit.Filter) (int64, bool) {
	if c == nil {
		return 0, false
	}
	n, err := c.client.Get(ctx, CountKey(kind, f)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "count cache read failed", "kind", kind, "error", err)
		return 0, false
	}
	return n, true
}

func (c *CountCache) Set(ctx context.Context, kind audit.Kind, f audit.Filter, n int64) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, CountKey(kind, f), n, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "count cache write failed", "kind", kind, "error", err)
	}
}

// Invalidate drops every cached count of kind.
func (c *CountCache) Invalidate(ctx context.Context, kind audit.Kind) {
	if c == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, countKeyPrefix+string(kind)+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "count cache scan failed", "kind", kind, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "count cache invalidation failed", "kind", kind, "error", err)
	}
}
