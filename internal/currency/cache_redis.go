package currency

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"expensio/internal/platform/redis"
)

// RedisCache adapts the platform Redis client to the RateCache interface.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Client.Set(ctx, key, value, ttl).Err()
}
