// Package engine drives background reconciliation between the local store
// and the remote backend. It owns the Idle/Draining state machine: all
// outbox mutation happens inside a single Draining pass at a time, while
// caller-facing reads and writes go straight to the store and never wait
// on the network.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ecolog/ecolog/internal/outbox"
	"github.com/ecolog/ecolog/internal/schema"
	"github.com/ecolog/ecolog/internal/signal"
	"github.com/ecolog/ecolog/internal/store"
	"github.com/ecolog/ecolog/internal/transport"
)

const prefLastSyncTime = "last_sync_time"

var (
	// ErrSyncInProgress is reported when a trigger fires while another
	// Draining pass holds the guard.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrOffline is reported when a pass is requested without connectivity.
	ErrOffline = errors.New("device is offline")
)

// Result summarizes one Draining pass.
type Result struct {
	Success bool
	Synced  int
	Failed  int
	Dropped int
	Errors  []error
}

// Options tunes the engine. Zero values select defaults.
type Options struct {
	MaxRetries   int           // per-item pass failures before drop (default 3)
	Interval     time.Duration // periodic trigger while online (default 30s)
	BatchDelay   time.Duration // pause between batches (default 200ms)
	FlushTimeout time.Duration // deadline for the teardown flush (default 5s)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = 200 * time.Millisecond
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 5 * time.Second
	}
	return o
}

// Engine is the caller-facing data layer.
type Engine struct {
	store     store.Store
	queue     *outbox.Queue
	transport transport.Transport
	signals   signal.Source
	policy    BatchPolicy
	opts      Options

	// 1 while a Draining pass is running.
	draining atomic.Int32
}

// New assembles an engine. A nil source is replaced with a Static source
// at the conservative default state; a nil policy gets Fixed{5}.
func New(s store.Store, t transport.Transport, src signal.Source, policy BatchPolicy, opts Options) *Engine {
	if src == nil {
		src = signal.NewStatic(signal.DefaultState())
	}
	if policy == nil {
		policy = FixedPolicy{Size: 5}
	}
	return &Engine{
		store:     s,
		queue:     outbox.New(s),
		transport: t,
		signals:   src,
		policy:    policy,
		opts:      opts.withDefaults(),
	}
}

// SaveEntry validates and persists an entry, enqueuing its create mutation
// in the same store transaction. It returns without touching the network.
func (e *Engine) SaveEntry(ctx context.Context, entry *schema.TrackedEntry) error {
	entry.SetDefaults()
	if err := entry.Validate(); err != nil {
		return err
	}
	item, err := outbox.NewItem(schema.ActionCreate, schema.EntityEntry, entry)
	if err != nil {
		return err
	}
	if err := e.store.PutEntry(ctx, entry, item); err != nil {
		return fmt.Errorf("saving entry %s: %w", entry.ID, err)
	}
	PendingItems.Inc()
	return nil
}

// GetEntry reads one entry from the local store.
func (e *Engine) GetEntry(ctx context.Context, id string) (*schema.TrackedEntry, error) {
	return e.store.GetEntry(ctx, id)
}

// GetEntries reads entries from the local store. Pure local read.
func (e *Engine) GetEntries(ctx context.Context, filter schema.EntryFilter) ([]*schema.TrackedEntry, error) {
	return e.store.GetEntries(ctx, filter)
}

// DeleteEntry removes an entry locally and enqueues its delete mutation in
// the same transaction. Entries are immutable once logged; deletion is the
// only mutation after creation.
func (e *Engine) DeleteEntry(ctx context.Context, id string) error {
	item, err := outbox.NewItem(schema.ActionDelete, schema.EntityEntry, schema.DeleteKey{ID: id})
	if err != nil {
		return err
	}
	if err := e.store.DeleteEntry(ctx, id, item); err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	PendingItems.Inc()
	return nil
}

// Stats reads the rolling aggregate from the local store.
func (e *Engine) Stats(ctx context.Context) (*schema.AggregateStats, error) {
	return e.store.Stats(ctx)
}

// Status reports current sync state. PendingCount and LastSyncTime come
// from the store; IsSyncing reflects the pass guard at call time.
func (e *Engine) Status(ctx context.Context) (*schema.SyncStatus, error) {
	count, err := e.store.OutboxCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting pending items: %w", err)
	}
	status := &schema.SyncStatus{
		IsOnline:     e.signals.Current().Online,
		PendingCount: count,
		IsSyncing:    e.draining.Load() == 1,
	}
	if v, err := e.store.PrefGet(ctx, prefLastSyncTime); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.LastSyncTime = t
		}
	}
	return status, nil
}

// ForceSyncNow runs one Draining pass immediately, regardless of triggers.
// When a pass is already running it does not wait: it reports
// ErrSyncInProgress so the caller can surface "sync already running".
func (e *Engine) ForceSyncNow(ctx context.Context) Result {
	return e.drain(ctx)
}

// Run is the engine's event loop. It drains on the offline-to-online
// transition, on regaining the foreground, on a periodic ticker while
// online, and once at startup. It returns after ctx is cancelled, having
// attempted a best-effort final flush.
func (e *Engine) Run(ctx context.Context) error {
	ch, unsubscribe := e.signals.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	prev := e.signals.Current()
	if prev.Online {
		e.drain(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			e.finalFlush()
			return nil

		case s, ok := <-ch:
			if !ok {
				return nil
			}
			cameOnline := s.Online && !prev.Online
			regainedForeground := s.Foreground && !prev.Foreground
			prev = s
			if cameOnline || (regainedForeground && s.Online) {
				e.drain(ctx)
			}

		case <-ticker.C:
			if e.signals.Current().Online {
				e.drain(ctx)
			}
		}
	}
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// finalFlush gives queued mutations one last chance on teardown. Failures
// are logged and left in the outbox for the next session.
func (e *Engine) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.FlushTimeout)
	defer cancel()

	res := e.drain(ctx)
	if !res.Success {
		log.WithFields(log.Fields{
			"synced": res.Synced,
			"failed": res.Failed,
		}).Info("Final flush incomplete, items remain queued")
	}
}

// drain executes one Draining pass: the only code path that mutates the
// outbox. The guard makes concurrent triggers no-ops.
func (e *Engine) drain(ctx context.Context) Result {
	if !e.draining.CompareAndSwap(0, 1) {
		return Result{Errors: []error{ErrSyncInProgress}}
	}
	defer e.draining.Store(0)

	state := e.signals.Current()
	if !state.Online {
		return Result{Errors: []error{ErrOffline}}
	}

	start := time.Now()
	res := e.drainLocked(ctx, state)

	// Completion is recorded even after partial failure so staleness
	// reflects the last attempt, not the last perfect pass.
	if err := e.store.PrefSet(ctx, prefLastSyncTime, start.UTC().Format(time.RFC3339Nano)); err != nil {
		log.WithError(err).Warn("Failed to record last sync time")
	}

	SyncPassesTotal.Inc()
	SyncPassDurationSeconds.Observe(time.Since(start).Seconds())
	if count, err := e.store.OutboxCount(ctx); err == nil {
		PendingItems.Set(float64(count))
	}

	res.Success = res.Failed == 0 && len(res.Errors) == 0
	return res
}

func (e *Engine) drainLocked(ctx context.Context, state signal.State) Result {
	var res Result

	items, skipped, err := e.queue.ListPending(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("reading outbox: %w", err))
		return res
	}
	if skipped > 0 {
		res.Errors = append(res.Errors, fmt.Errorf("skipped %d corrupt outbox items", skipped))
	}
	if len(items) == 0 {
		return res
	}

	batchSize := e.policy.BatchSize(state)
	log.WithFields(log.Fields{
		"pending": len(items),
		"batch":   batchSize,
	}).Debug("Draining outbox")

	for offset := 0; offset < len(items); offset += batchSize {
		if offset > 0 {
			select {
			case <-ctx.Done():
				res.Errors = append(res.Errors, ctx.Err())
				return res
			case <-time.After(e.opts.BatchDelay):
			}
		}

		end := offset + batchSize
		if end > len(items) {
			end = len(items)
		}
		e.sendBatch(ctx, items[offset:end], &res)
	}
	return res
}

// sendBatch fans the batch out concurrently, waits for every send, then
// applies outcomes to the queue sequentially.
func (e *Engine) sendBatch(ctx context.Context, batch []*schema.OutboxItem, res *Result) {
	sendErrs := make([]error, len(batch))
	var wg sync.WaitGroup
	for i, item := range batch {
		wg.Add(1)
		go func(i int, item *schema.OutboxItem) {
			defer wg.Done()
			sendErrs[i] = e.send(ctx, item)
		}(i, item)
	}
	wg.Wait()

	for i, item := range batch {
		if sendErrs[i] == nil {
			if err := e.queue.Remove(ctx, item.ID); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("removing synced item %s: %w", item.ID, err))
				continue
			}
			res.Synced++
			SyncedItemsTotal.Inc()
			continue
		}

		if errors.Is(sendErrs[i], outbox.ErrCorruptItem) {
			log.WithField("item", item.ID).Warn("Dropping corrupt outbox item")
			if err := e.queue.Remove(ctx, item.ID); err != nil {
				res.Errors = append(res.Errors, err)
			}
			res.Dropped++
			DroppedItemsTotal.Inc()
			continue
		}

		res.Failed++
		res.Errors = append(res.Errors, fmt.Errorf("item %s: %w", item.ID, sendErrs[i]))
		FailedItemsTotal.Inc()

		retries, err := e.queue.IncrementRetry(ctx, item.ID)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		if retries >= e.opts.MaxRetries {
			log.WithFields(log.Fields{
				"item":    item.ID,
				"retries": retries,
			}).Warn("Dropping outbox item after exhausting retries")
			if err := e.queue.Remove(ctx, item.ID); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Dropped++
			DroppedItemsTotal.Inc()
		}
	}
}

func (e *Engine) send(ctx context.Context, item *schema.OutboxItem) error {
	m, err := transport.MutationFromItem(item)
	if err != nil {
		return fmt.Errorf("%w: %v", outbox.ErrCorruptItem, err)
	}
	return e.transport.Send(ctx, m)
}
