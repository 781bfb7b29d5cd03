// postgres.go -- pgxpool KV backend.
//
// One row per key in kv_entries. Upserts make writes last-write-wins per key;
// all queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKV implements KV on a Postgres connection pool.
type PostgresKV struct {
	pool *pgxpool.Pool
}

// NewPostgresKV creates a verified connection pool and returns a ready-to-use store.
// Call once at startup; the returned store is safe for concurrent use.
func NewPostgresKV(ctx context.Context, databaseURL string) (*PostgresKV, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresKV{pool}, nil
}

// Close shuts down the connection pool.
func (s *PostgresKV) Close() {
	s.pool.Close()
}

// Stat returns connection pool statistics.
func (s *PostgresKV) Stat() *pgxpool.Stat {
	return s.pool.Stat()
}

func (s *PostgresKV) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, "SELECT value FROM kv_entries WHERE key = $1", key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", key, err)
	}
	return v, nil
}

func (s *PostgresKV) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) Remove(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM kv_entries WHERE key = $1", key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv_entries WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("listing %s*: %w", prefix, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("reading keys: %w", err)
	}
	return keys, nil
}

// Take implements Taker with DELETE ... RETURNING.
func (s *PostgresKV) Take(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, "DELETE FROM kv_entries WHERE key = $1 RETURNING value", key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("taking %s: %w", key, err)
	}
	return v, nil
}

// CheckHealth pings Postgres.
func (s *PostgresKV) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// escapeLike escapes LIKE wildcards so prefixes match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
