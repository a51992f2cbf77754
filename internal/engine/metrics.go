package engine

import "github.com/prometheus/client_golang/prometheus"

// Keys for sync engine metrics.
const (
	SyncPassesTotalKey         = "ecolog_sync_passes_total"
	SyncedItemsTotalKey        = "ecolog_synced_items_total"
	FailedItemsTotalKey        = "ecolog_failed_items_total"
	DroppedItemsTotalKey       = "ecolog_dropped_items_total"
	PendingItemsKey            = "ecolog_pending_items"
	SyncPassDurationSecondsKey = "ecolog_sync_pass_duration_seconds"
)

// Collectors for sync engine metrics.
var (
	SyncPassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: SyncPassesTotalKey,
		Help: "Cumulative number of completed sync passes.",
	})
	SyncedItemsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: SyncedItemsTotalKey,
		Help: "Cumulative number of outbox items synced to the backend.",
	})
	FailedItemsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: FailedItemsTotalKey,
		Help: "Cumulative number of item send attempts that failed.",
	})
	DroppedItemsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DroppedItemsTotalKey,
		Help: "Cumulative number of items dropped after exhausting retries.",
	})
	PendingItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: PendingItemsKey,
		Help: "Number of outbox items awaiting sync.",
	})
	SyncPassDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: SyncPassDurationSecondsKey,
		Help: "Duration of sync passes.",
	})
)

// Collectors returns every engine collector for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SyncPassesTotal,
		SyncedItemsTotal,
		FailedItemsTotal,
		DroppedItemsTotal,
		PendingItems,
		SyncPassDurationSeconds,
	}
}
