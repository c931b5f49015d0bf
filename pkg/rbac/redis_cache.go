package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces capability keys
const DefaultRedisPrefix = "portal:caps:"

// RedisCache is the shared capability tier, so replicas see each other's
// resolutions and invalidations
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a shared cache over client
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(principalID string) string {
	return c.prefix + principalID
}

// Get returns the cached capabilities. A miss is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, principalID string) (*Capabilities, bool, error) {
	data, err := c.client.Get(ctx, c.key(principalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get capabilities from redis: %w", err)
	}

	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	return &caps, true, nil
}

// Set stores capabilities for ttl
func (c *RedisCache) Set(ctx context.Context, caps *Capabilities, ttl time.Duration) error {
	data, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	if err := c.client.Set(ctx, c.key(caps.PrincipalID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set capabilities in redis: %w", err)
	}
	return nil
}

// Delete removes one principal's entry
func (c *RedisCache) Delete(ctx context.Context, principalID string) error {
	if err := c.client.Del(ctx, c.key(principalID)).Err(); err != nil {
		return fmt.Errorf("failed to delete capabilities from redis: %w", err)
	}
	return nil
}

// Purge removes every entry under the prefix
func (c *RedisCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan capability keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to purge capabilities from redis: %w", err)
	}
	return nil
}
