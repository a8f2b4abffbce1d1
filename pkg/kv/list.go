package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// List is a Redis list of JSON values.
type List[T any] struct {
	client redis.UniversalClient
	key    string
}

// NewList creates a List stored under key.
func NewList[T any](client redis.UniversalClient, key string) *List[T] {
	return &List[T]{client: client, key: key}
}

// Add appends value.
func (l *List[T]) Add(ctx context.Context, value T) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := l.client.RPush(ctx, l.key, raw).Err(); err != nil {
		return fmt.Errorf("%s - failed to push to %s: %w", logPrefix, l.key, err)
	}
	return nil
}

// Get returns every value in order.
func (l *List[T]) Get(ctx context.Context) ([]T, error) {
	raws, err := l.client.LRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, l.key, err)
	}
	return decodeAll[T](raws)
}

// Update replaces the value at index.
func (l *List[T]) Update(ctx context.Context, index int64, value T) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := l.client.LSet(ctx, l.key, index, raw).Err(); err != nil {
		return fmt.Errorf("%s - failed to set %s[%d]: %w", logPrefix, l.key, index, err)
	}
	return nil
}

// Destroy removes the first occurrence of value.
func (l *List[T]) Destroy(ctx context.Context, value T) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := l.client.LRem(ctx, l.key, 1, raw).Err(); err != nil {
		return fmt.Errorf("%s - failed to remove from %s: %w", logPrefix, l.key, err)
	}
	return nil
}

// Drop deletes the list.
func (l *List[T]) Drop(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("%s - failed to drop %s: %w", logPrefix, l.key, err)
	}
	return nil
}
