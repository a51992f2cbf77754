package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of remote mutation an outbox item carries.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// EntityEntry is the entity type for tracked entries.
const EntityEntry = "entries"

// OutboxItem is a queued mutation intent targeting the remote service.
// Items are appended when a local write commits and removed on confirmed
// delivery or on exhausting their retry budget.
type OutboxItem struct {
	ID         string          `json:"id"`
	Action     Action          `json:"action"`
	EntityType string          `json:"entity_type"`
	Payload    json.RawMessage `json:"payload"` // the entity for create/update, the key for delete
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// NewOutboxID builds an item ID from the action, entity type, enqueue
// timestamp, and a random suffix. The suffix keeps IDs unique even when a
// burst of mutations lands within the same nanosecond tick.
func NewOutboxID(action Action, entityType string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d-%s", action, entityType, at.UnixNano(), uuid.NewString()[:8])
}

// Validate checks the item's invariants.
func (o *OutboxItem) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !o.Action.Valid() {
		return fmt.Errorf("unknown action %q", o.Action)
	}
	if o.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if len(o.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if o.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative (got %d)", o.RetryCount)
	}
	return nil
}

// DeleteKey is the payload carried by delete items.
type DeleteKey struct {
	ID string `json:"id"`
}
