package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/packfinderz-cart/pkg/redis"
)

// RedisBackend stores payloads under the cartd:storage namespace.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) (*RedisBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Read(ctx context.Context, key string) ([]byte, error) {
	value, err := b.client.Get(ctx, b.client.StorageKey(key))
	if errors.Is(err, redis.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (b *RedisBackend) Write(ctx context.Context, key string, payload []byte) error {
	return b.client.Set(ctx, b.client.StorageKey(key), string(payload), 0)
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.client.StorageKey(key))
}
