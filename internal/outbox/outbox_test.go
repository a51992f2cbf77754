package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecolog/ecolog/internal/schema"
	"github.com/ecolog/ecolog/internal/store"
)

func setupQueue(t *testing.T) (*Queue, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "ecolog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func entry(id string) *schema.TrackedEntry {
	e := &schema.TrackedEntry{
		ID:       id,
		Category: "plastic",
		Disposal: schema.DisposalRecycled,
		WeightKG: 0.5,
		Credits:  15,
	}
	e.SetDefaults()
	return e
}

func TestEnqueueListRemove(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		item, err := q.Enqueue(ctx, schema.ActionCreate, schema.EntityEntry, entry("en-"+string(rune('a'+i))))
		require.NoError(t, err)
		ids = append(ids, item.ID)
		time.Sleep(time.Millisecond) // distinct enqueue timestamps
	}

	pending, skipped, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Len(t, pending, 3)
	for i, item := range pending {
		require.Equal(t, ids[i], item.ID, "FIFO order violated at %d", i)
		require.Zero(t, item.RetryCount)
	}

	require.NoError(t, q.Remove(ctx, ids[0]))
	n, err := q.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Removing again is idempotent.
	require.NoError(t, q.Remove(ctx, ids[0]))
}

func TestEnqueueBurstIDsUnique(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		item, err := q.Enqueue(ctx, schema.ActionDelete, schema.EntityEntry, schema.DeleteKey{ID: "en-1"})
		require.NoError(t, err)
		require.False(t, seen[item.ID], "duplicate ID in burst: %s", item.ID)
		seen[item.ID] = true
	}

	n, err := q.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, n)
}

func TestIncrementRetryMonotonic(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, schema.ActionCreate, schema.EntityEntry, entry("en-1"))
	require.NoError(t, err)

	prev := 0
	for i := 0; i < 3; i++ {
		n, err := q.IncrementRetry(ctx, item.ID)
		require.NoError(t, err)
		require.Greater(t, n, prev)
		prev = n
	}
	require.Equal(t, 3, prev)
}

func TestListPendingSkipsMalformedItems(t *testing.T) {
	q, db := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, schema.ActionCreate, schema.EntityEntry, entry("en-1"))
	require.NoError(t, err)

	// Corrupt a row directly, bypassing validation.
	_, err = db.RawDB().Exec(`
		INSERT INTO outbox (id, action, entity_type, payload, enqueued_at, retry_count)
		VALUES ('bad-item', 'merge', 'entries', '{}', ?, 0)`, time.Now().UnixNano())
	require.NoError(t, err)

	pending, skipped, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.Len(t, pending, 1)
	require.Equal(t, schema.ActionCreate, pending[0].Action)
}
