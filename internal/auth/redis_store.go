package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists nonces and active sessions in Redis, letting
// multiple backend instances share auth state.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at the given URL.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func challengeRedisKey(publicKey, nonce string) string {
	return "challenge:" + nonceKey(publicKey, nonce)
}

func sessionRedisKey(publicKey string) string {
	return "session:" + publicKey
}

func (s *RedisStore) PutNonce(ctx context.Context, publicKey, nonce string, expiresAt time.Time) error {
	// Keep the record a minute past the challenge expiry so a late
	// presentation is reported as expired rather than replayed.
	ttl := time.Until(expiresAt) + time.Minute
	return s.client.Set(ctx, challengeRedisKey(publicKey, nonce), expiresAt.UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (s *RedisStore) ConsumeNonce(ctx context.Context, publicKey, nonce string) (time.Time, bool, error) {
	val, err := s.client.GetDel(ctx, challengeRedisKey(publicKey, nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt challenge record: %w", err)
	}
	return expiresAt, true, nil
}

func (s *RedisStore) SetActive(ctx context.Context, publicKey, tokenID string, ttl time.Duration) error {
	return s.client.Set(ctx, sessionRedisKey(publicKey), tokenID, ttl).Err()
}

func (s *RedisStore) ActiveTokenID(ctx context.Context, publicKey string) (string, error) {
	val, err := s.client.Get(ctx, sessionRedisKey(publicKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *RedisStore) Revoke(ctx context.Context, publicKey string) error {
	return s.client.Del(ctx, sessionRedisKey(publicKey)).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
