// Package db opens the pgx pools cortex tables run on and creates their database on demand.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// NewPool creates a pgx pool for databaseURL and pings it.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// WithSSL sets sslmode on databaseURL: require when ssl is true, disable otherwise. An
// sslmode already present in the URL is kept.
func WithSSL(databaseURL string, ssl bool) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("%s - invalid database URL: %w", logPrefix, err)
	}
	q := u.Query()
	if q.Get("sslmode") != "" {
		return databaseURL, nil
	}
	if ssl {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WithDatabase returns databaseURL pointing at the database name.
func WithDatabase(databaseURL, name string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("%s - invalid database URL: %w", logPrefix, err)
	}
	if !safeDBName.MatchString(name) {
		return "", fmt.Errorf("%s - database name %q contains invalid characters", logPrefix, name)
	}
	u.Path = "/" + name
	return u.String(), nil
}
