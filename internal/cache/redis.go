package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 30 * time.Second

// RedisGuard is a short-lived SETNX lock keyed per webhook order reference.
type RedisGuard struct {
	client      redis.UniversalClient
	serviceName string
	ttl         time.Duration
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func NewRedisGuard(client redis.UniversalClient, serviceName string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisGuard{client: client, serviceName: serviceName, ttl: ttl}
}

// Acquire reports false when another holder owns key.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.GenerateKey(key), time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.GenerateKey(key)).Err()
}

func (g *RedisGuard) GenerateKey(key string) string {
	return fmt.Sprintf("%s:lock:%s", g.serviceName, key)
}
