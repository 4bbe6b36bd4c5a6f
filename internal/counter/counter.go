// Package counter models the shared atomic counter store used for rate
// limiting, live metric counters and short-lived caching. All mutations are
// single-key atomic increments, so the pipeline is correct whether the store
// is local or remote and regardless of how many writers share it.
package counter

import (
	"context"
	"time"
)

// Counter store key schema.
const (
	RateLimitKeyPrefix = "ratelimit:"
	RecentEventPrefix  = "event:recent:"
	InsightCachePrefix = "insights:event:"

	MetricsTotalKey      = "metrics:events:total"
	MetricsTotalField    = "count"
	MetricsByTypeKey     = "metrics:events:by-type"
	MetricsBySeverityKey = "metrics:events:by-severity"
	MetricsBySourceKey   = "metrics:events:by-source"
)

// Store is the counter store capability.
type Store interface {
	// Incr atomically increments key and returns the post-increment value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on key. Used to bound rate-limit windows.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// HIncrBy atomically increments a hash field.
	HIncrBy(ctx context.Context, key, field string, delta int64) error
	// HGet reads one hash field; missing fields return "" with no error.
	HGet(ctx context.Context, key, field string) (string, error)
	// HGetAll reads a whole hash; missing keys return an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// SetJSON stores a JSON-marshaled value under key with a TTL.
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	// Ping reports store reachability.
	Ping(ctx context.Context) error
	Close() error
}
