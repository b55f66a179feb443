package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConditionCache is a ConditionCache shared between server instances.
// Entries are JSON arrays stored under KeyPrefix + "<source>:<target>".
type RedisConditionCache struct {
	rc     *redis.Client
	config CacheConfig
}

// NewRedisConditionCache creates a cache on top of an existing client.
func NewRedisConditionCache(rc *redis.Client, config CacheConfig) *RedisConditionCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultCacheConfig().KeyPrefix
	}
	return &RedisConditionCache{rc: rc, config: config}
}

func (c *RedisConditionCache) key(pair Pair) string {
	return fmt.Sprintf("%s%d:%d", c.config.KeyPrefix, pair.Source, pair.Target)
}

func (c *RedisConditionCache) Get(ctx context.Context, pair Pair) ([]*PushCondition, bool, error) {
	raw, err := c.rc.Get(ctx, c.key(pair)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached conditions: %w", err)
	}

	var conds []*PushCondition
	if err := json.Unmarshal(raw, &conds); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached conditions: %w", err)
	}
	if conds == nil {
		conds = []*PushCondition{}
	}
	return conds, true, nil
}

func (c *RedisConditionCache) Set(ctx context.Context, pair Pair, conds []*PushCondition) error {
	if conds == nil {
		conds = []*PushCondition{}
	}
	raw, err := json.Marshal(conds)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	if err := c.rc.Set(ctx, c.key(pair), raw, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to cache conditions: %w", err)
	}
	return nil
}

func (c *RedisConditionCache) Invalidate(ctx context.Context, pair Pair) error {
	if err := c.rc.Del(ctx, c.key(pair)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", pair, err)
	}
	return nil
}

func (c *RedisConditionCache) InvalidateAll(ctx context.Context) error {
	iter := c.rc.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached conditions: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rc.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached conditions: %w", err)
	}
	return nil
}
