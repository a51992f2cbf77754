// Package schema provides the data structures shared by the ecolog store,
// outbox, and sync engine.
package schema

import (
	"fmt"
	"time"
)

// Disposal describes how a tracked item was handled.
type Disposal string

const (
	DisposalRecycled  Disposal = "recycled"
	DisposalComposted Disposal = "composted"
	DisposalLandfill  Disposal = "landfill"
	DisposalDonated   Disposal = "donated"
	DisposalHazardous Disposal = "hazardous"
)

// Valid reports whether d is a known disposal method.
func (d Disposal) Valid() bool {
	switch d {
	case DisposalRecycled, DisposalComposted, DisposalLandfill,
		DisposalDonated, DisposalHazardous:
		return true
	}
	return false
}

// EntryDateLayout is the calendar-date format used for range queries.
const EntryDateLayout = "2006-01-02"

// TrackedEntry is one logged action. Entries are immutable after creation;
// the only mutation the system supports is explicit deletion.
type TrackedEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Disposal  Disposal  `json:"disposal"`
	WeightKG  float64   `json:"weight_kg"`
	Credits   int       `json:"credits"` // may be negative (e.g. contamination penalty)
	CreatedAt time.Time `json:"created_at"`

	// EntryDate is derived from CreatedAt in local time and indexed for
	// "today's entries" style queries.
	EntryDate string `json:"entry_date"`
}

// Validate checks the entry's invariants.
func (e *TrackedEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Category == "" {
		return fmt.Errorf("category is required")
	}
	if !e.Disposal.Valid() {
		return fmt.Errorf("unknown disposal method %q", e.Disposal)
	}
	if e.WeightKG <= 0 {
		return fmt.Errorf("weight must be positive (got %v)", e.WeightKG)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if e.EntryDate == "" {
		return fmt.Errorf("entry_date is required")
	}
	return nil
}

// SetDefaults fills derived and optional fields so callers can construct
// entries with just the user-supplied values.
func (e *TrackedEntry) SetDefaults() {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.EntryDate == "" {
		e.EntryDate = e.CreatedAt.Local().Format(EntryDateLayout)
	}
}

// EntryFilter selects entries for range queries. Zero values mean
// "no constraint". Start/End bound CreatedAt as [Start, End).
type EntryFilter struct {
	Start    time.Time
	End      time.Time
	Date     string // exact EntryDate match
	Category string
	Limit    int
}
