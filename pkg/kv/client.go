// Package kv provides typed helpers over Redis: prefixed records, lists, sorted sets, sets of
// timestamped entries and a JSON pub/sub fan-out.
package kv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
)

const logPrefix = "kv:client"

// Connect opens a client for url (redis://host:port/db) and pings it. A non-empty password
// overrides the one in the URL.
func Connect(ctx context.Context, url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid redis url: %w", logPrefix, err)
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s - failed to ping redis at %s: %w", logPrefix, opts.Addr, err)
	}
	slog.Info(fmt.Sprintf("%s - Connected to redis at %s", logPrefix, opts.Addr))
	return client, nil
}

func encode(v interface{}) (string, error) {
	data, err := commsutil.EncodePayload(v)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encode value: %w", logPrefix, err)
	}
	return string(data), nil
}

func decode[T any](raw string) (T, error) {
	var v T
	if err := commsutil.DecodePayload([]byte(raw), &v); err != nil {
		return v, fmt.Errorf("%s - failed to decode value: %w", logPrefix, err)
	}
	return v, nil
}

func decodeAll[T any](raws []string) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
