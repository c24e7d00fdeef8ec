/**
 * @description
 * Redis-backed webhook replay cache. The structural idempotency gates remain
 * authoritative; this cache is a best-effort guard for the lifecycle events
 * whose updates are naturally idempotent overwrites.
 */
package app

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultEventCacheTTL = 24 * time.Hour

// RedisEventCache implements EventCache with SETNX semantics.
type RedisEventCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisEventCache creates a replay cache. A nil client yields a cache that
// treats every event as first delivery.
func NewRedisEventCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisEventCache {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "ampel:webhook_events"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = defaultEventCacheTTL
	}
	return &RedisEventCache{client: client, prefix: trimmedPrefix, ttl: ttl}
}

// MarkProcessed records the event id and reports whether this is the first
// time it has been seen within the TTL window.
func (c *RedisEventCache) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	if c == nil || c.client == nil || eventID == "" {
		return true, nil
	}
	key := c.prefix + ":" + eventID
	return c.client.SetNX(ctx, key, 1, c.ttl).Result()
}
