package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CachePut implements Store. An existing key is refreshed in place.
func (db *DB) CachePut(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive (got %v)", ttl)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cache (key, data, stored_at, ttl_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			stored_at = excluded.stored_at,
			ttl_ns = excluded.ttl_ns`,
		key, data, time.Now().UnixNano(), int64(ttl),
	)
	if err != nil {
		return fmt.Errorf("caching %s: %w", key, err)
	}
	return nil
}

// CacheGet implements Store. A read past the entry's TTL returns
// ErrNotFound and proactively evicts the stale row.
func (db *DB) CacheGet(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var storedAt, ttlNS int64

	row := db.conn.QueryRowContext(ctx,
		`SELECT data, stored_at, ttl_ns FROM cache WHERE key = ?`, key)
	err := row.Scan(&data, &storedAt, &ttlNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", key, err)
	}

	if time.Since(time.Unix(0, storedAt)) >= time.Duration(ttlNS) {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
			return nil, fmt.Errorf("evicting stale cache %s: %w", key, err)
		}
		return nil, fmt.Errorf("cache %s expired: %w", key, ErrNotFound)
	}
	return data, nil
}

// CacheInvalidate implements Store. Invalidating a missing key is a no-op.
func (db *DB) CacheInvalidate(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("invalidating cache %s: %w", key, err)
	}
	return nil
}

// PrefGet implements Store. Returns ErrNotFound for unset keys.
func (db *DB) PrefGet(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("pref %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading pref %s: %w", key, err)
	}
	return value, nil
}

// PrefSet implements Store.
func (db *DB) PrefSet(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO prefs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting pref %s: %w", key, err)
	}
	return nil
}
