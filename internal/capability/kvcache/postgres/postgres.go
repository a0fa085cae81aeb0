// Package postgres provides a PostgreSQL-backed KVCache.
//
// Rather than adding Redis to the dependency surface, the cache is a plain
// table in the same database as the graph store — one less moving part to
// operate, at the cost of needing a reaper goroutine to evict expired rows
// instead of relying on Redis's native TTLs.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memorybear/engine/internal/capability/kvcache"
)

const ddlKVCache = `
CREATE TABLE IF NOT EXISTS kv_cache (
    key        TEXT        PRIMARY KEY,
    value      BYTEA       NOT NULL,
    expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_kv_cache_expires_at ON kv_cache (expires_at);
`

// KVCache implements kvcache.KVCache on top of a pgxpool.Pool.
type KVCache struct {
	pool *pgxpool.Pool
}

// New creates a KVCache and ensures its table exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*KVCache, error) {
	if _, err := pool.Exec(ctx, ddlKVCache); err != nil {
		return nil, fmt.Errorf("kvcache postgres: migrate: %w", err)
	}
	return &KVCache{pool: pool}, nil
}

// Get implements kvcache.KVCache.
func (c *KVCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.pool.QueryRow(ctx,
		`SELECT value FROM kv_cache WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kvcache postgres: get: %w", err)
	}
	return value, true, nil
}

// Set implements kvcache.KVCache.
func (c *KVCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	_, err := c.pool.Exec(ctx, `
		INSERT INTO kv_cache (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("kvcache postgres: set: %w", err)
	}
	return nil
}

// Delete implements kvcache.KVCache.
func (c *KVCache) Delete(ctx context.Context, key string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM kv_cache WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kvcache postgres: delete: %w", err)
	}
	return nil
}

// TryAcquireLock attempts to take the named lock key for ttl, reusing the
// same kv_cache table: the lock is just a row whose presence (and
// unexpired expires_at) signals ownership. The INSERT ... ON CONFLICT
// clause only overwrites a row whose lease has already expired, making
// acquisition a single atomic statement safe across concurrent processes —
// this is the horizontally-safe alternative to the in-process
// atomic.Bool guard a single-instance deployment would use instead.
func (c *KVCache) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var acquired string
	err := c.pool.QueryRow(ctx, `
		INSERT INTO kv_cache (key, value, expires_at)
		VALUES ($1, '\x01'::bytea, $2)
		ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
			WHERE kv_cache.expires_at IS NOT NULL AND kv_cache.expires_at <= now()
		RETURNING key
	`, key, time.Now().Add(ttl)).Scan(&acquired)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("kvcache postgres: try acquire lock: %w", err)
	}
	return true, nil
}

// ReleaseLock drops the named lock early, rather than waiting for its ttl
// to lapse.
func (c *KVCache) ReleaseLock(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

// RunReaper deletes expired rows every interval until ctx is cancelled. Run
// it once as a background goroutine from the process entry point.
func (c *KVCache) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.pool.Exec(ctx, `DELETE FROM kv_cache WHERE expires_at IS NOT NULL AND expires_at <= now()`)
		}
	}
}

var _ kvcache.KVCache = (*KVCache)(nil)
