package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ZSet is a Redis sorted set of JSON values. New members are scored after the current last.
type ZSet[T any] struct {
	client redis.UniversalClient
	key    string
}

// NewZSet creates a ZSet stored under key.
func NewZSet[T any](client redis.UniversalClient, key string) *ZSet[T] {
	return &ZSet[T]{client: client, key: key}
}

// Add inserts value with score card+1.
func (z *ZSet[T]) Add(ctx context.Context, value T) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	card, err := z.client.ZCard(ctx, z.key).Result()
	if err != nil {
		return fmt.Errorf("%s - failed to count %s: %w", logPrefix, z.key, err)
	}
	if err := z.client.ZAdd(ctx, z.key, redis.Z{Score: float64(card + 1), Member: raw}).Err(); err != nil {
		return fmt.Errorf("%s - failed to add to %s: %w", logPrefix, z.key, err)
	}
	return nil
}

// Get returns every value ordered by score.
func (z *ZSet[T]) Get(ctx context.Context) ([]T, error) {
	raws, err := z.client.ZRange(ctx, z.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, z.key, err)
	}
	return decodeAll[T](raws)
}

// Update sets the score of value, adding it when missing.
func (z *ZSet[T]) Update(ctx context.Context, value T, score float64) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := z.client.ZAdd(ctx, z.key, redis.Z{Score: score, Member: raw}).Err(); err != nil {
		return fmt.Errorf("%s - failed to score %s: %w", logPrefix, z.key, err)
	}
	return nil
}

// Destroy removes value.
func (z *ZSet[T]) Destroy(ctx context.Context, value T) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := z.client.ZRem(ctx, z.key, raw).Err(); err != nil {
		return fmt.Errorf("%s - failed to remove from %s: %w", logPrefix, z.key, err)
	}
	return nil
}

// Drop deletes the set.
func (z *ZSet[T]) Drop(ctx context.Context) error {
	if err := z.client.Del(ctx, z.key).Err(); err != nil {
		return fmt.Errorf("%s - failed to drop %s: %w", logPrefix, z.key, err)
	}
	return nil
}

// Rank returns the zero-based position of value. ok is false when it is not a member.
func (z *ZSet[T]) Rank(ctx context.Context, value T) (rank int64, ok bool, err error) {
	raw, err := encode(value)
	if err != nil {
		return 0, false, err
	}
	rank, err = z.client.ZRank(ctx, z.key, raw).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s - failed to rank in %s: %w", logPrefix, z.key, err)
	}
	return rank, true, nil
}
