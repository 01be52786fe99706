package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/formrules/internal/logger"
)

const redisOpTimeout = 2 * time.Second

// RedisRulesCache shares a form's active rule list between server instances.
// Redis errors degrade to cache misses; the engine then reads the store.
type RedisRulesCache struct {
	client *redis.Client
	key    string
	config CacheConfig
}

// NewRedisRulesCache caches the rules of formID under a per-form key
func NewRedisRulesCache(client *redis.Client, formID string, config CacheConfig) *RedisRulesCache {
	return &RedisRulesCache{
		client: client,
		key:    RedisCacheKey(formID),
		config: config,
	}
}

// RedisCacheKey is the key holding the active rules of formID
func RedisCacheKey(formID string) string {
	return fmt.Sprintf("formrules:active:%s", formID)
}

// Get returns nil on a miss, an expired key or any Redis failure
func (c *RedisRulesCache) Get() []*Rule {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("redis rules cache read failed", "key", c.key, "error", err)
		}
		return nil
	}

	var rules []*Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		logger.Warn("redis rules cache holds unreadable data", "key", c.key, "error", err)
		return nil
	}
	return rules
}

// Set stores rules with the configured TTL (0 keeps them until invalidated)
func (c *RedisRulesCache) Set(rules []*Rule) {
	data, err := json.Marshal(rules)
	if err != nil {
		logger.Warn("redis rules cache encode failed", "key", c.key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key, data, c.config.TTL).Err(); err != nil {
		logger.Warn("redis rules cache write failed", "key", c.key, "error", err)
	}
}

// Invalidate deletes the key
func (c *RedisRulesCache) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		logger.Warn("redis rules cache invalidate failed", "key", c.key, "error", err)
	}
}

// IsValid reports whether the key currently exists
func (c *RedisRulesCache) IsValid() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, c.key).Result()
	return err == nil && n == 1
}
