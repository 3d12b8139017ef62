package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/hanko-field/commerce/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCartTTL    = 15 * time.Minute
	cartGenerationTTL = 24 * time.Hour
)

// ErrStaleGeneration is returned by Set when the cart was invalidated after the snapshot was read.
var ErrStaleGeneration = errors.New("cache: stale cart generation")

// CartCache stores the listed lines of a user's cart in Redis as JSON.
type CartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

// NewCartCache builds a cart cache. A non-positive ttl selects the default.
func NewCartCache(client redis.UniversalClient, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &CartCache{client: client, baseTTL: ttl}
}

// Get returns the cached lines for userID or ErrCacheMiss.
func (c *CartCache) Get(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	data, err := c.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var lines []domain.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return lines, nil
}

// Generation returns the invalidation counter of userID's cart. Callers read it before loading
// lines from the store and hand it back to Set.
func (c *CartCache) Generation(ctx context.Context, userID int64) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Set caches lines for userID when the cart generation still equals generation, otherwise it
// returns ErrStaleGeneration. Expiry is jittered by up to five minutes so entries written together
// do not expire together.
func (c *CartCache) Set(ctx context.Context, userID int64, generation int64, lines []domain.CartLine) error {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	ttl := c.baseTTL + time.Duration(rand.Intn(5))*time.Minute
	genKey := generationKey(userID)

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return ErrStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cartKey(userID), payload, ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return ErrStaleGeneration
	default:
		return fmt.Errorf("redis set failed: %w", err)
	}
}

// Invalidate drops cached carts for the given users and bumps their generations, so reads that
// started earlier cannot repopulate them.
func (c *CartCache) Invalidate(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), cartGenerationTTL)
			pipe.Del(ctx, cartKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

func generationKey(userID int64) string {
	return fmt.Sprintf("cart:gen:%d", userID)
}
