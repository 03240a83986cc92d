package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisJSON stores JSON-encoded values under a key prefix. It is shared by
// every serving process, unlike Cache.
type RedisJSON[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisJSON[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *RedisJSON[V] {
	return &RedisJSON[V]{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisJSON[V]) Key(id string) string {
	return c.prefix + id
}

// Get returns ok=false on a miss. Undecodable entries are treated as misses.
func (c *RedisJSON[V]) Get(ctx context.Context, id string) (V, bool, error) {
	var zero V
	if c == nil || c.client == nil {
		return zero, false, nil
	}
	raw, err := c.client.Get(ctx, c.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, nil
	}
	return value, true, nil
}

func (c *RedisJSON[V]) Set(ctx context.Context, id string, value V) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(id), raw, c.ttl).Err()
}

// Delete drops every listed entry in one round trip.
func (c *RedisJSON[V]) Delete(ctx context.Context, ids ...string) error {
	if c == nil || c.client == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, c.Key(id))
	}
	return c.client.Del(ctx, keys...).Err()
}
