package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore keeps records in Redis so replays work across instances. Expiry uses Redis TTLs.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Reserve implements Store using SETNX so only one request wins a fresh key.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	record := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: marshal record: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, redisKey(key), payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: redis reserve: %w", err)
		}
		if ok {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}

		existing, err := s.load(ctx, key)
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		if existing.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		if existing.Status == StatusCompleted {
			return Reservation{State: ReservationStateCompleted, Record: existing}, nil
		}
		return Reservation{State: ReservationStatePending, Record: existing}, nil
	}
	return Reservation{}, errors.New("idempotency: redis reserve contention")
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normalizeTTL(ttl)

	var createdAt time.Time
	existing, err := s.load(ctx, key)
	switch {
	case err == nil:
		if existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		createdAt = existing.CreatedAt
	case !errors.Is(err, redis.Nil):
		return err
	}

	payload, err := json.Marshal(completedRecord(key, fingerprint, resp, createdAt, now, ttl))
	if err != nil {
		return fmt.Errorf("idempotency: marshal record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis save: %w", err)
	}
	return nil
}

// Release implements Store. Only the reservation holding fingerprint is removed.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	existing, err := s.load(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Fingerprint != fingerprint {
		return nil
	}
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, error) {
	data, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("idempotency: redis load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}

func redisKey(key string) string {
	return redisKeyPrefix + hashedKey(key)
}
