package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hanko-field/commerce/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCartCache(t *testing.T) (*CartCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCartCache(client, time.Minute), mr
}

func TestCartCacheMiss(t *testing.T) {
	c, _ := setupCartCache(t)

	_, err := c.Get(context.Background(), 7)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCartCacheSetAndGet(t *testing.T) {
	c, mr := setupCartCache(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	lines := []domain.CartLine{
		{ID: 1, UserID: 7, ProductID: 10, Size: "M", Price: decimal.RequireFromString("19.99"), Quantity: 2, CreatedAt: created, UpdatedAt: created},
		{ID: 2, UserID: 7, ProductID: 11, Price: decimal.RequireFromString("5.00"), Quantity: 1, CreatedAt: created, UpdatedAt: created},
	}
	require.NoError(t, c.Set(ctx, 7, 0, lines))
	assert.True(t, mr.Exists("cart:7"))

	ttl := mr.TTL("cart:7")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, 6*time.Minute)

	got, err := c.Get(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].ProductID)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 2, got[0].Quantity)
	assert.True(t, got[1].CreatedAt.Equal(created))
}

func TestCartCacheEmptyCartIsCached(t *testing.T) {
	c, _ := setupCartCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 3, 0, nil))
	got, err := c.Get(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCartCacheInvalidate(t *testing.T) {
	c, mr := setupCartCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, 1, 0, []domain.CartLine{{ID: 1, UserID: 1, Quantity: 1}}))
	require.NoError(t, c.Set(ctx, 2, 0, []domain.CartLine{{ID: 2, UserID: 2, Quantity: 1}}))

	require.NoError(t, c.Invalidate(ctx, 1, 2, 99))
	assert.False(t, mr.Exists("cart:1"))
	assert.False(t, mr.Exists("cart:2"))
	require.NoError(t, c.Invalidate(ctx))

	gen, err := c.Generation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Greater(t, mr.TTL("cart:gen:1"), time.Duration(0))
}

func TestCartCacheSetRejectsSnapshotOlderThanInvalidation(t *testing.T) {
	c, mr := setupCartCache(t)
	ctx := context.Background()

	gen, err := c.Generation(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	// A mutation lands between the read of the generation and the write of the snapshot.
	require.NoError(t, c.Invalidate(ctx, 4))

	err = c.Set(ctx, 4, gen, []domain.CartLine{{ID: 1, UserID: 4, Quantity: 1}})
	assert.ErrorIs(t, err, ErrStaleGeneration)
	assert.False(t, mr.Exists("cart:4"))

	fresh, err := c.Generation(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, 4, fresh, []domain.CartLine{{ID: 1, UserID: 4, Quantity: 3}}))
	got, err := c.Get(ctx, 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Quantity)
}

func TestCartCacheCorruptValue(t *testing.T) {
	c, mr := setupCartCache(t)
	require.NoError(t, mr.Set("cart:5", "not-json"))

	_, err := c.Get(context.Background(), 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestPing(t *testing.T) {
	_, mr := setupCartCache(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, Ping(context.Background(), client))
	mr.Close()
	assert.Error(t, Ping(context.Background(), client))
}
