// Package store provides the local persistent store for ecolog.
//
// The store owns all durable state: tracked entries, the rolling aggregate
// stats record, the sync outbox, a TTL response cache, and user preferences.
// It runs on embedded SQLite (ncruces/go-sqlite3) in WAL mode so readers are
// never blocked by the sync engine's writes.
//
// All writes are transactional per call. Entry writes that carry an outbox
// item commit both in a single transaction, so an entry can never be durably
// saved without its queued mutation (or vice versa).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ecolog/ecolog/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a key or entry does not exist. A cache read
// past its TTL is also a not-found: the entry is evicted and treated as
// absent.
var ErrNotFound = errors.New("store: not found")

// ErrStoreUnavailable wraps initialization failures (quota, corruption).
// Callers should treat the store as provisionally unavailable and fall back
// to an in-memory session store rather than crash.
var ErrStoreUnavailable = errors.New("store: unavailable")

// Store is the persistence contract consumed by the sync engine and the
// caller-facing API. Implemented by *DB (SQLite) and *MemStore (session
// fallback).
type Store interface {
	// PutEntry durably writes an entry. If item is non-nil it is appended
	// to the outbox in the same transaction.
	PutEntry(ctx context.Context, e *schema.TrackedEntry, item *schema.OutboxItem) error
	GetEntry(ctx context.Context, id string) (*schema.TrackedEntry, error)
	GetEntries(ctx context.Context, filter schema.EntryFilter) ([]*schema.TrackedEntry, error)
	// DeleteEntry removes an entry and reverses its stats contribution.
	// If item is non-nil it is appended to the outbox in the same
	// transaction. Deleting a missing entry is a no-op.
	DeleteEntry(ctx context.Context, id string, item *schema.OutboxItem) error
	Stats(ctx context.Context) (*schema.AggregateStats, error)

	OutboxAppend(ctx context.Context, item *schema.OutboxItem) error
	OutboxList(ctx context.Context) ([]*schema.OutboxItem, error)
	OutboxRemove(ctx context.Context, id string) error
	// OutboxIncrementRetry bumps an item's retry count and returns the new
	// value.
	OutboxIncrementRetry(ctx context.Context, id string) (int, error)
	OutboxCount(ctx context.Context) (int, error)

	CachePut(ctx context.Context, key string, data []byte, ttl time.Duration) error
	CacheGet(ctx context.Context, key string) ([]byte, error)
	CacheInvalidate(ctx context.Context, key string) error

	PrefGet(ctx context.Context, key string) (string, error)
	PrefSet(ctx context.Context, key, value string) error

	Close() error
}

// DB is the SQLite-backed Store.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (or opens) the database at path and initializes the schema.
//
// The database runs in WAL mode with a busy timeout so concurrent readers
// are never blocked by the engine's write transactions. The caller MUST
// call Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating database directory: %v", ErrStoreUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrStoreUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrStoreUnavailable, err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, pragma, err)
		}
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// OpenWithFallback opens the SQLite store at path, degrading to an
// in-memory session store when initialization fails. The second return
// value reports whether the fallback was taken.
func OpenWithFallback(path string) (Store, bool) {
	db, err := Open(path)
	if err != nil {
		log.WithField("path", path).WithError(err).
			Warn("persistent store unavailable, using in-memory session store")
		return NewMemStore(), true
	}
	return db, false
}

// RawDB returns the underlying sql.DB connection, for integration with
// libraries that expect one.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.WithError(err).Warn("failed to checkpoint WAL on close")
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	db.conn = nil
	return nil
}

// initSchema creates tables and indexes. Idempotent.
func (db *DB) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		disposal TEXT NOT NULL,
		weight_kg REAL NOT NULL CHECK (weight_kg > 0),
		credits INTEGER NOT NULL,
		created_at INTEGER NOT NULL,  -- unix nanoseconds
		entry_date TEXT NOT NULL      -- YYYY-MM-DD, local time
	);

	-- Range queries ("today", "[start,end)", per-category) are index-served.
	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(entry_date);
	CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category);

	-- Single rolling row, adjusted inside every entry write transaction.
	CREATE TABLE IF NOT EXISTS stats (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total_entries INTEGER NOT NULL DEFAULT 0,
		total_weight_kg REAL NOT NULL DEFAULT 0,
		total_credits INTEGER NOT NULL DEFAULT 0,
		per_category TEXT NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		enqueued_at INTEGER NOT NULL,  -- unix nanoseconds, FIFO order
		retry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_enqueued ON outbox(enqueued_at);

	CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		stored_at INTEGER NOT NULL,    -- unix nanoseconds
		ttl_ns INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prefs (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: initializing schema: %v", ErrStoreUnavailable, err)
	}
	return nil
}
