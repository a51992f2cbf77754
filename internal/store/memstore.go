package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ecolog/ecolog/internal/schema"
)

// memCacheSize bounds the fallback cache. The fallback runs when the device
// is already struggling (quota, corruption), so memory stays capped.
const memCacheSize = 256

type memCacheEntry struct {
	data     []byte
	storedAt time.Time
	ttl      time.Duration
}

// MemStore is the in-memory session fallback used when the SQLite store
// fails to initialize. It honors the full Store contract but nothing
// survives a restart; callers learn about the degradation from
// OpenWithFallback.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*schema.TrackedEntry
	outbox  map[string]*schema.OutboxItem
	prefs   map[string]string
	stats   schema.AggregateStats
	cache   *lru.Cache
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	// lru.New only errors on a non-positive size.
	cache, _ := lru.New(memCacheSize)
	return &MemStore{
		entries: make(map[string]*schema.TrackedEntry),
		outbox:  make(map[string]*schema.OutboxItem),
		prefs:   make(map[string]string),
		cache:   cache,
	}
}

// PutEntry implements Store.
func (m *MemStore) PutEntry(_ context.Context, e *schema.TrackedEntry, item *schema.OutboxItem) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}
	if item != nil {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("invalid outbox item: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[e.ID]; exists {
		return fmt.Errorf("entry %s already exists", e.ID)
	}
	cp := *e
	m.entries[e.ID] = &cp
	m.stats.Apply(e)
	if item != nil {
		ic := *item
		m.outbox[item.ID] = &ic
	}
	return nil
}

// GetEntry implements Store.
func (m *MemStore) GetEntry(_ context.Context, id string) (*schema.TrackedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// GetEntries implements Store.
func (m *MemStore) GetEntries(_ context.Context, filter schema.EntryFilter) ([]*schema.TrackedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.TrackedEntry
	for _, e := range m.entries {
		if !filter.Start.IsZero() && e.CreatedAt.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && !e.CreatedAt.Before(filter.End) {
			continue
		}
		if filter.Date != "" && e.EntryDate != filter.Date {
			continue
		}
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteEntry implements Store.
func (m *MemStore) DeleteEntry(_ context.Context, id string, item *schema.OutboxItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	delete(m.entries, id)
	m.stats.Unapply(e)
	if item != nil {
		ic := *item
		m.outbox[item.ID] = &ic
	}
	return nil
}

// Stats implements Store.
func (m *MemStore) Stats(_ context.Context) (*schema.AggregateStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := m.stats
	if m.stats.PerCategory != nil {
		cp.PerCategory = make(map[string]int, len(m.stats.PerCategory))
		for k, v := range m.stats.PerCategory {
			cp.PerCategory[k] = v
		}
	}
	return &cp, nil
}

// OutboxAppend implements Store.
func (m *MemStore) OutboxAppend(_ context.Context, item *schema.OutboxItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid outbox item: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.outbox[item.ID] = &cp
	return nil
}

// OutboxList implements Store.
func (m *MemStore) OutboxList(_ context.Context) ([]*schema.OutboxItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]*schema.OutboxItem, 0, len(m.outbox))
	for _, item := range m.outbox {
		cp := *item
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].EnqueuedAt.Equal(items[j].EnqueuedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})
	return items, nil
}

// OutboxRemove implements Store.
func (m *MemStore) OutboxRemove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outbox, id)
	return nil
}

// OutboxIncrementRetry implements Store.
func (m *MemStore) OutboxIncrementRetry(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.outbox[id]
	if !ok {
		return 0, fmt.Errorf("outbox item %s: %w", id, ErrNotFound)
	}
	item.RetryCount++
	return item.RetryCount, nil
}

// OutboxCount implements Store.
func (m *MemStore) OutboxCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.outbox), nil
}

// CachePut implements Store. Old entries fall out under LRU pressure as
// well as on TTL expiry.
func (m *MemStore) CachePut(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive (got %v)", ttl)
	}
	m.cache.Add(key, memCacheEntry{data: data, storedAt: time.Now(), ttl: ttl})
	return nil
}

// CacheGet implements Store.
func (m *MemStore) CacheGet(_ context.Context, key string) ([]byte, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, fmt.Errorf("cache %s: %w", key, ErrNotFound)
	}
	entry := v.(memCacheEntry)
	if time.Since(entry.storedAt) >= entry.ttl {
		m.cache.Remove(key)
		return nil, fmt.Errorf("cache %s expired: %w", key, ErrNotFound)
	}
	return entry.data, nil
}

// CacheInvalidate implements Store.
func (m *MemStore) CacheInvalidate(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

// PrefGet implements Store.
func (m *MemStore) PrefGet(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.prefs[key]
	if !ok {
		return "", fmt.Errorf("pref %s: %w", key, ErrNotFound)
	}
	return v, nil
}

// PrefSet implements Store.
func (m *MemStore) PrefSet(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[key] = value
	return nil
}

// Close implements Store.
func (m *MemStore) Close() error {
	return nil
}
