package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const scanCount = 100

// Adapter stores JSON records of type T under "prefix::key".
type Adapter[T any] struct {
	client redis.UniversalClient
	prefix string
}

// NewAdapter creates an Adapter for prefix.
func NewAdapter[T any](client redis.UniversalClient, prefix string) *Adapter[T] {
	return &Adapter[T]{client: client, prefix: prefix}
}

func (a *Adapter[T]) key(k string) string {
	return a.prefix + "::" + k
}

// Create stores value under key, replacing any previous record.
func (a *Adapter[T]) Create(ctx context.Context, key string, value T) (T, error) {
	raw, err := encode(value)
	if err != nil {
		return value, err
	}
	if err := a.client.Set(ctx, a.key(key), raw, 0).Err(); err != nil {
		return value, fmt.Errorf("%s - failed to create %s: %w", logPrefix, a.key(key), err)
	}
	return value, nil
}

// Read returns the record under key. ok is false when it does not exist.
func (a *Adapter[T]) Read(ctx context.Context, key string) (value T, ok bool, err error) {
	raw, err := a.client.Get(ctx, a.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return value, false, nil
	}
	if err != nil {
		return value, false, fmt.Errorf("%s - failed to read %s: %w", logPrefix, a.key(key), err)
	}
	value, err = decode[T](raw)
	return value, err == nil, err
}

// ReadAll returns every record of the prefix keyed without the prefix.
func (a *Adapter[T]) ReadAll(ctx context.Context) (map[string]T, error) {
	keys, err := a.scan(ctx, a.prefix+"::*")
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(keys))
	for _, k := range keys {
		raw, err := a.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, k, err)
		}
		v, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(k, a.prefix+"::")] = v
	}
	return out, nil
}

// Has reports whether key exists.
func (a *Adapter[T]) Has(ctx context.Context, key string) (bool, error) {
	n, err := a.client.Exists(ctx, a.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%s - failed to check %s: %w", logPrefix, a.key(key), err)
	}
	return n == 1, nil
}

// Update merges the fields of patch into the stored record. ok is false when key does not
// exist.
func (a *Adapter[T]) Update(ctx context.Context, key string, patch map[string]interface{}) (value T, ok bool, err error) {
	raw, err := a.client.Get(ctx, a.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return value, false, nil
	}
	if err != nil {
		return value, false, fmt.Errorf("%s - failed to read %s: %w", logPrefix, a.key(key), err)
	}

	merged, err := decode[map[string]interface{}](raw)
	if err != nil {
		return value, false, err
	}
	if merged == nil {
		merged = make(map[string]interface{}, len(patch))
	}
	for k, v := range patch {
		merged[k] = v
	}
	encoded, err := encode(merged)
	if err != nil {
		return value, false, err
	}
	if value, err = decode[T](encoded); err != nil {
		return value, false, err
	}
	if err := a.client.Set(ctx, a.key(key), encoded, 0).Err(); err != nil {
		return value, false, fmt.Errorf("%s - failed to update %s: %w", logPrefix, a.key(key), err)
	}
	return value, true, nil
}

// Destroy deletes the given keys.
func (a *Adapter[T]) Destroy(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = a.key(k)
	}
	if err := a.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%s - failed to destroy %v: %w", logPrefix, keys, err)
	}
	return nil
}

// Drop deletes every record of the prefix.
func (a *Adapter[T]) Drop(ctx context.Context) error {
	keys, err := a.scan(ctx, a.prefix+"::*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := a.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s - failed to drop %s: %w", logPrefix, a.prefix, err)
	}
	return nil
}

func (a *Adapter[T]) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := a.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%s - failed to scan %s: %w", logPrefix, pattern, err)
	}
	return keys, nil
}
