package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "key|7", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
	assert.Equal(t, time.Hour, mr.TTL(redisKey("key|7")))

	res, err = store.Reserve(ctx, "key|7", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	_, err = store.Reserve(ctx, "key|7", "different", fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	headers := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"10"}}
	require.NoError(t, store.SaveResponse(ctx, "key|7", "fp", Response{Status: 201, Headers: headers, Body: []byte(`{"id":1}`)}, fixedTime, time.Hour))

	res, err = store.Reserve(ctx, "key|7", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, 201, res.Record.ResponseStatus)
	assert.Equal(t, `{"id":1}`, string(res.Record.ResponseBody))
	assert.Equal(t, []string{"application/json"}, res.Record.ResponseHeaders["Content-Type"])
	assert.NotContains(t, res.Record.ResponseHeaders, "Content-Length")
	assert.True(t, res.Record.CreatedAt.Equal(fixedTime))
}

func TestRedisStoreReleaseAndExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, "k", "someone-else"))
	assert.True(t, mr.Exists(redisKey("k")))

	require.NoError(t, store.Release(ctx, "k", "fp"))
	assert.False(t, mr.Exists(redisKey("k")))

	_, err = store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	res, err := store.Reserve(ctx, "k", "new", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}
