package kv

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a member of a Set: the value plus a sequential id and timestamps.
type Entry[T any] struct {
	ID        int64     `json:"id"`
	Data      T         `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Set is a Redis set of timestamped entries.
type Set[T any] struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

// NewSet creates a Set stored under key.
func NewSet[T any](client redis.UniversalClient, key string) *Set[T] {
	return &Set[T]{client: client, key: key, now: time.Now}
}

// Create adds values as entries numbered after the current members. A positive expire sets
// the key's time to live.
func (s *Set[T]) Create(ctx context.Context, values []T, expire time.Duration) ([]Entry[T], error) {
	count, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to count %s: %w", logPrefix, s.key, err)
	}

	now := s.now().UTC()
	entries := make([]Entry[T], len(values))
	members := make([]interface{}, len(values))
	for i, v := range values {
		entries[i] = Entry[T]{ID: count + int64(i) + 1, Data: v, CreatedAt: now, UpdatedAt: now}
		raw, err := encode(entries[i])
		if err != nil {
			return nil, err
		}
		members[i] = raw
	}
	if len(members) == 0 {
		return entries, nil
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.key, members...)
	if expire > 0 {
		pipe.Expire(ctx, s.key, expire)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%s - failed to add to %s: %w", logPrefix, s.key, err)
	}
	return entries, nil
}

// View returns every entry ordered by id.
func (s *Set[T]) View(ctx context.Context) ([]Entry[T], error) {
	raws, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", logPrefix, s.key, err)
	}
	entries, err := decodeAll[Entry[T]](raws)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Destroy removes the entries with the given ids and returns how many were removed. With no
// ids the whole set is removed.
func (s *Set[T]) Destroy(ctx context.Context, ids ...int64) (int, error) {
	raws, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%s - failed to read %s: %w", logPrefix, s.key, err)
	}
	if len(ids) == 0 {
		if err := s.client.Del(ctx, s.key).Err(); err != nil {
			return 0, fmt.Errorf("%s - failed to drop %s: %w", logPrefix, s.key, err)
		}
		return len(raws), nil
	}

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var doomed []interface{}
	for _, raw := range raws {
		e, err := decode[Entry[T]](raw)
		if err != nil {
			return 0, err
		}
		if wanted[e.ID] {
			doomed = append(doomed, raw)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	removed, err := s.client.SRem(ctx, s.key, doomed...).Result()
	if err != nil {
		return 0, fmt.Errorf("%s - failed to remove from %s: %w", logPrefix, s.key, err)
	}
	return int(removed), nil
}
