package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no cached value exists for a key.
var ErrCacheMiss = errors.New("cache miss")

// NewRedisClient builds a go-redis client from configuration. It returns nil when Redis is disabled.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping verifies the client can reach Redis.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
