package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ecolog/ecolog/internal/schema"
)

// OutboxAppend implements Store. Standalone append outside an entry write;
// used for mutations whose local effect already committed.
func (db *DB) OutboxAppend(ctx context.Context, item *schema.OutboxItem) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertOutbox(ctx, tx, item); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing outbox append: %w", err)
	}
	return nil
}

// insertOutbox appends an item inside the caller's transaction.
func insertOutbox(ctx context.Context, tx *sql.Tx, item *schema.OutboxItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid outbox item: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (id, action, entity_type, payload, enqueued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Action), item.EntityType, string(item.Payload),
		item.EnqueuedAt.UnixNano(), item.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("appending outbox item %s: %w", item.ID, err)
	}
	return nil
}

// OutboxList implements Store. Items come back FIFO by enqueue time.
func (db *DB) OutboxList(ctx context.Context) ([]*schema.OutboxItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, action, entity_type, payload, enqueued_at, retry_count
		FROM outbox ORDER BY enqueued_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var items []*schema.OutboxItem
	for rows.Next() {
		var item schema.OutboxItem
		var action, payload string
		var enqueuedAt int64

		if err := rows.Scan(&item.ID, &action, &item.EntityType, &payload, &enqueuedAt, &item.RetryCount); err != nil {
			return nil, fmt.Errorf("scanning outbox item: %w", err)
		}
		item.Action = schema.Action(action)
		item.Payload = []byte(payload)
		item.EnqueuedAt = time.Unix(0, enqueuedAt)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox: %w", err)
	}
	return items, nil
}

// OutboxRemove implements Store. Removing a missing item is a no-op.
func (db *DB) OutboxRemove(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("removing outbox item %s: %w", id, err)
	}
	return nil
}

// OutboxIncrementRetry implements Store.
func (db *DB) OutboxIncrementRetry(ctx context.Context, id string) (int, error) {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE outbox SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("incrementing retry for %s: %w", id, err)
	}

	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT retry_count FROM outbox WHERE id = ?`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("outbox item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("reading retry count for %s: %w", id, err)
	}
	return count, nil
}

// OutboxCount implements Store.
func (db *DB) OutboxCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting outbox: %w", err)
	}
	return count, nil
}
