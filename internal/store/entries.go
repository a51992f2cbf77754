package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecolog/ecolog/internal/schema"
)

// PutEntry implements Store. The entry insert, the stats adjustment, and
// the optional outbox append commit in a single transaction.
func (db *DB) PutEntry(ctx context.Context, e *schema.TrackedEntry, item *schema.OutboxItem) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (id, category, disposal, weight_kg, credits, created_at, entry_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Category, string(e.Disposal), e.WeightKG, e.Credits,
		e.CreatedAt.UnixNano(), e.EntryDate,
	)
	if err != nil {
		return fmt.Errorf("inserting entry %s: %w", e.ID, err)
	}

	if err := db.adjustStats(ctx, tx, e, +1); err != nil {
		return err
	}

	if item != nil {
		if err := insertOutbox(ctx, tx, item); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entry write: %w", err)
	}
	return nil
}

// GetEntry implements Store. Returns ErrNotFound for missing IDs.
func (db *DB) GetEntry(ctx context.Context, id string) (*schema.TrackedEntry, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, category, disposal, weight_kg, credits, created_at, entry_date
		FROM entries WHERE id = ?`, id)

	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading entry %s: %w", id, err)
	}
	return e, nil
}

// GetEntries implements Store. Filters are served by the secondary indexes
// on created_at, entry_date, and category; results come back in creation
// order, oldest first.
func (db *DB) GetEntries(ctx context.Context, filter schema.EntryFilter) ([]*schema.TrackedEntry, error) {
	var conditions []string
	var args []interface{}

	if !filter.Start.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Start.UnixNano())
	}
	if !filter.End.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filter.End.UnixNano())
	}
	if filter.Date != "" {
		conditions = append(conditions, "entry_date = ?")
		args = append(args, filter.Date)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}

	query := `SELECT id, category, disposal, weight_kg, credits, created_at, entry_date FROM entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []*schema.TrackedEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// DeleteEntry implements Store. Deleting a missing entry is a no-op;
// the stats adjustment and outbox append only happen when a row existed.
func (db *DB) DeleteEntry(ctx context.Context, id string, item *schema.OutboxItem) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, category, disposal, weight_kg, credits, created_at, entry_date
		FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading entry %s for delete: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}

	if err := db.adjustStats(ctx, tx, e, -1); err != nil {
		return err
	}

	if item != nil {
		if err := insertOutbox(ctx, tx, item); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entry delete: %w", err)
	}
	return nil
}

// Stats implements Store. A store with no writes yet returns zero totals.
func (db *DB) Stats(ctx context.Context) (*schema.AggregateStats, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT total_entries, total_weight_kg, total_credits, per_category, updated_at
		FROM stats WHERE id = 1`)

	var s schema.AggregateStats
	var perCategory, updatedAt string
	err := row.Scan(&s.TotalEntries, &s.TotalWeightKG, &s.TotalCredits, &perCategory, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &schema.AggregateStats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	if perCategory != "" && perCategory != "{}" {
		if err := json.Unmarshal([]byte(perCategory), &s.PerCategory); err != nil {
			return nil, fmt.Errorf("parsing per-category stats: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		s.UpdatedAt = t
	}
	return &s, nil
}

// adjustStats folds one entry into (sign=+1) or out of (sign=-1) the
// rolling stats row, inside the caller's transaction.
func (db *DB) adjustStats(ctx context.Context, tx *sql.Tx, e *schema.TrackedEntry, sign int) error {
	row := tx.QueryRowContext(ctx, `
		SELECT total_entries, total_weight_kg, total_credits, per_category
		FROM stats WHERE id = 1`)

	var s schema.AggregateStats
	var perCategory string
	err := row.Scan(&s.TotalEntries, &s.TotalWeightKG, &s.TotalCredits, &perCategory)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading stats for adjustment: %w", err)
	}
	if perCategory != "" && perCategory != "{}" {
		if err := json.Unmarshal([]byte(perCategory), &s.PerCategory); err != nil {
			return fmt.Errorf("parsing per-category stats: %w", err)
		}
	}

	if sign >= 0 {
		s.Apply(e)
	} else {
		s.Unapply(e)
	}

	perCatJSON, err := json.Marshal(s.PerCategory)
	if err != nil {
		return fmt.Errorf("marshaling per-category stats: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stats (id, total_entries, total_weight_kg, total_credits, per_category, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_entries = excluded.total_entries,
			total_weight_kg = excluded.total_weight_kg,
			total_credits = excluded.total_credits,
			per_category = excluded.per_category,
			updated_at = excluded.updated_at`,
		s.TotalEntries, s.TotalWeightKG, s.TotalCredits, string(perCatJSON),
		s.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("updating stats: %w", err)
	}
	return nil
}

// scanEntry reads one entry row via the given scan function, so it works
// for both sql.Row and sql.Rows.
func scanEntry(scan func(...interface{}) error) (*schema.TrackedEntry, error) {
	var e schema.TrackedEntry
	var disposal string
	var createdAt int64

	if err := scan(&e.ID, &e.Category, &disposal, &e.WeightKG, &e.Credits, &createdAt, &e.EntryDate); err != nil {
		return nil, err
	}
	e.Disposal = schema.Disposal(disposal)
	e.CreatedAt = time.Unix(0, createdAt)
	return &e, nil
}
