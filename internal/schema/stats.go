package schema

import "time"

// AggregateStats is the single rolling record of cumulative totals derived
// from the entry history. The store adjusts it on every entry add/remove;
// it is never recomputed from scratch by the engine.
type AggregateStats struct {
	TotalEntries  int            `json:"total_entries"`
	TotalWeightKG float64        `json:"total_weight_kg"`
	TotalCredits  int            `json:"total_credits"`
	PerCategory   map[string]int `json:"per_category,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Apply folds an added entry into the totals.
func (s *AggregateStats) Apply(e *TrackedEntry) {
	s.TotalEntries++
	s.TotalWeightKG += e.WeightKG
	s.TotalCredits += e.Credits
	if s.PerCategory == nil {
		s.PerCategory = make(map[string]int)
	}
	s.PerCategory[e.Category]++
	s.UpdatedAt = time.Now()
}

// Unapply reverses Apply for a removed entry.
func (s *AggregateStats) Unapply(e *TrackedEntry) {
	s.TotalEntries--
	s.TotalWeightKG -= e.WeightKG
	s.TotalCredits -= e.Credits
	if s.PerCategory != nil {
		s.PerCategory[e.Category]--
		if s.PerCategory[e.Category] <= 0 {
			delete(s.PerCategory, e.Category)
		}
	}
	s.UpdatedAt = time.Now()
}

// SyncStatus is the derived view of the engine's state. Only LastSyncTime
// is durable (a preferences key); the rest is computed on demand.
type SyncStatus struct {
	IsOnline     bool      `json:"is_online"`
	PendingCount int       `json:"pending_count"`
	LastSyncTime time.Time `json:"last_sync_time"`
	IsSyncing    bool      `json:"is_syncing"`
}
