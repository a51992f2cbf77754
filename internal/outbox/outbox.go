// Package outbox implements the durable queue of not-yet-confirmed remote
// mutations. Items live in the persistent store alongside the entities they
// describe; the queue is what the sync engine drains when connectivity
// allows.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ecolog/ecolog/internal/schema"
	"github.com/ecolog/ecolog/internal/store"
)

// ErrCorruptItem marks an outbox item whose payload cannot be turned into
// a remote mutation. Corrupt items are dropped, never retried.
var ErrCorruptItem = errors.New("corrupt outbox item")

// Queue is the outbox over a Store. Enqueue never touches the network and
// never blocks on it.
type Queue struct {
	store store.Store
}

// New creates a queue over the given store.
func New(s store.Store) *Queue {
	return &Queue{store: s}
}

// NewItem builds an outbox item for the given mutation, marshaling the
// payload. The item is not persisted; pass it to Enqueue or to the store's
// transactional entry writes.
func NewItem(action schema.Action, entityType string, payload interface{}) (*schema.OutboxItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling outbox payload: %w", err)
	}
	now := time.Now()
	return &schema.OutboxItem{
		ID:         schema.NewOutboxID(action, entityType, now),
		Action:     action,
		EntityType: entityType,
		Payload:    raw,
		EnqueuedAt: now,
	}, nil
}

// Enqueue appends a mutation intent and returns immediately.
func (q *Queue) Enqueue(ctx context.Context, action schema.Action, entityType string, payload interface{}) (*schema.OutboxItem, error) {
	item, err := NewItem(action, entityType, payload)
	if err != nil {
		return nil, err
	}
	if err := q.store.OutboxAppend(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListPending returns all queued items in FIFO order. Malformed items are
// skipped and logged rather than blocking the rest of a pass, and the
// skipped count is reported so callers can surface it.
func (q *Queue) ListPending(ctx context.Context) ([]*schema.OutboxItem, int, error) {
	items, err := q.store.OutboxList(ctx)
	if err != nil {
		return nil, 0, err
	}

	valid := items[:0]
	skipped := 0
	for _, item := range items {
		if err := item.Validate(); err != nil {
			log.WithField("id", item.ID).WithError(err).
				Warn("skipping malformed outbox item")
			skipped++
			continue
		}
		valid = append(valid, item)
	}
	return valid, skipped, nil
}

// Remove deletes an item, idempotently.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.OutboxRemove(ctx, id)
}

// IncrementRetry bumps an item's retry count and returns the new value.
func (q *Queue) IncrementRetry(ctx context.Context, id string) (int, error) {
	return q.store.OutboxIncrementRetry(ctx, id)
}

// Count returns the number of queued items.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.store.OutboxCount(ctx)
}
