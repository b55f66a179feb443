package rules

import (
	"context"
	"time"
)

// ConditionCache caches the ordered active conditions of a department pair so
// EvaluatePush does not hit the store on every record.
type ConditionCache interface {
	// Get returns the cached conditions for pair. ok is false on a miss or
	// when the entry expired.
	Get(ctx context.Context, pair Pair) (conds []*PushCondition, ok bool, err error)

	// Set stores the conditions for pair. An empty list is a valid entry.
	Set(ctx context.Context, pair Pair, conds []*PushCondition) error

	// Invalidate drops the entry for pair.
	Invalidate(ctx context.Context, pair Pair) error

	// InvalidateAll drops every entry.
	InvalidateAll(ctx context.Context) error
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration

	// KeyPrefix namespaces shared caches such as Redis.
	KeyPrefix string
}

// DefaultCacheConfig returns the defaults: no TTL, invalidate on mutation.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:       0,
		KeyPrefix: "tripflow:conditions:",
	}
}
