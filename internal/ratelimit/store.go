package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// CounterStore is the shared key-value store holding the timestamp sequences.
type CounterStore interface {
	// Get returns the stored value of key. found is false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set overwrites key and sets its expiry to ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type RedisStore struct {
	cli redis.UniversalClient
}

func NewRedisStore(cli redis.UniversalClient) RedisStore {
	return RedisStore{
		cli: cli,
	}
}

func (s RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.cli.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WithMessage(err, "redis get")
	}
	return value, true, nil
}

func (s RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := s.cli.Set(ctx, key, value, ttl).Err()
	if err != nil {
		return errors.WithMessage(err, "redis set")
	}
	return nil
}
