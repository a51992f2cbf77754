package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecolog/ecolog/internal/schema"
	"github.com/ecolog/ecolog/internal/signal"
	"github.com/ecolog/ecolog/internal/store"
	"github.com/ecolog/ecolog/internal/transport"
)

// fakeTransport records sent mutations and fails on demand.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []transport.Mutation
	failIDs map[string]error // entity ID -> error to return
	delay   time.Duration
	gate    chan struct{} // when set, Send blocks until the gate closes

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failIDs: make(map[string]error)}
}

func (f *fakeTransport) Send(ctx context.Context, m transport.Mutation) error {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if cur <= peak || f.maxInflight.CompareAndSwap(peak, cur) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failIDs[m.EntityID]; ok {
		return err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.sent))
	for i, m := range f.sent {
		ids[i] = m.EntityID
	}
	return ids
}

func testEngine(t *testing.T, tr transport.Transport, src signal.Source, policy BatchPolicy) *Engine {
	t.Helper()
	e := New(store.NewMemStore(), tr, src, policy, Options{
		Interval:     50 * time.Millisecond,
		BatchDelay:   time.Millisecond,
		FlushTimeout: time.Second,
	})
	t.Cleanup(func() { e.Close() })
	return e
}

func entry(id string) *schema.TrackedEntry {
	return &schema.TrackedEntry{
		ID:       id,
		Category: "plastic",
		Disposal: schema.DisposalRecycled,
		WeightKG: 0.5,
		Credits:  3,
	}
}

func TestSaveThenGetFullyOffline(t *testing.T) {
	tr := newFakeTransport()
	src := signal.NewStatic(signal.State{Online: false})
	e := testEngine(t, tr, src, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.SaveEntry(ctx, entry(fmt.Sprintf("e%d", i))))
	}

	entries, err := e.GetEntries(ctx, schema.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	assert.Equal(t, 3, status.PendingCount)
	assert.True(t, status.LastSyncTime.IsZero())

	res := e.ForceSyncNow(ctx)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrOffline)
	assert.Empty(t, tr.sentIDs(), "offline pass must not touch the network")
}

func TestForceSyncEmptyOutbox(t *testing.T) {
	tr := newFakeTransport()
	e := testEngine(t, tr, signal.NewStatic(signal.DefaultState()), nil)
	ctx := context.Background()

	res := e.ForceSyncNow(ctx)
	assert.True(t, res.Success)
	assert.Zero(t, res.Synced)
	assert.Zero(t, res.Failed)

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.LastSyncTime.IsZero(), "empty pass still records completion")
}

func TestForceSyncDrainsFIFO(t *testing.T) {
	tr := newFakeTransport()
	e := testEngine(t, tr, signal.NewStatic(signal.DefaultState()), nil)
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		require.NoError(t, e.SaveEntry(ctx, entry(id)))
	}

	res := e.ForceSyncNow(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.Synced)
	assert.ElementsMatch(t, ids, tr.sentIDs())

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)
}

func TestRetryCeilingDropsItem(t *testing.T) {
	tr := newFakeTransport()
	tr.failIDs["bad"] = &transport.RequestError{Status: 500}
	e := testEngine(t, tr, signal.NewStatic(signal.DefaultState()), nil)
	ctx := context.Background()

	require.NoError(t, e.SaveEntry(ctx, entry("bad")))
	require.NoError(t, e.SaveEntry(ctx, entry("good")))

	res := e.ForceSyncNow(ctx)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Dropped)

	// Second failure: still queued.
	res = e.ForceSyncNow(ctx)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Dropped)
	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount)

	// Third failure exhausts the budget and drops the item.
	res = e.ForceSyncNow(ctx)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Dropped)

	status, err = e.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)

	// The drop is terminal: a healthy pass follows.
	res = e.ForceSyncNow(ctx)
	assert.True(t, res.Success)
}

func TestConcurrentTriggersAreMutuallyExclusive(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	e := testEngine(t, tr, signal.NewStatic(signal.DefaultState()), nil)
	ctx := context.Background()

	require.NoError(t, e.SaveEntry(ctx, entry("slow")))

	done := make(chan Result, 1)
	go func() { done <- e.ForceSyncNow(ctx) }()

	// Wait until the pass holds the guard.
	require.Eventually(t, func() bool {
		status, err := e.Status(ctx)
		return err == nil && status.IsSyncing
	}, 5*time.Second, 5*time.Millisecond)

	second := e.ForceSyncNow(ctx)
	require.Len(t, second.Errors, 1)
	assert.ErrorIs(t, second.Errors[0], ErrSyncInProgress)

	close(tr.gate)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, 1, first.Synced)
}

func TestBatchBoundsConcurrency(t *testing.T) {
	tr := newFakeTransport()
	tr.delay = 20 * time.Millisecond
	e := testEngine(t, tr, signal.NewStatic(signal.DefaultState()), FixedPolicy{Size: 5})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, e.SaveEntry(ctx, entry(fmt.Sprintf("e%02d", i))))
	}

	res := e.ForceSyncNow(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, 12, res.Synced)
	assert.LessOrEqual(t, tr.maxInflight.Load(), int32(5))
}

func TestDrainOnReconnect(t *testing.T) {
	tr := newFakeTransport()
	src := signal.NewStatic(signal.State{Online: false})
	e := testEngine(t, tr, src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.SaveEntry(ctx, entry("queued-offline")))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		e.Run(ctx)
	}()

	src.Set(signal.State{Online: true, Connection: signal.ConnectionWifi, Foreground: true})

	require.Eventually(t, func() bool {
		status, err := e.Status(ctx)
		return err == nil && status.PendingCount == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"queued-offline"}, tr.sentIDs())

	cancel()
	<-runDone
}

func TestForegroundRegainTriggersDrain(t *testing.T) {
	tr := newFakeTransport()
	src := signal.NewStatic(signal.State{Online: true, Connection: signal.ConnectionWifi, Foreground: false})
	// A long interval keeps the ticker out of this test: only the
	// foreground transition can cause the drain.
	e := New(store.NewMemStore(), tr, src, nil, Options{
		Interval:     time.Hour,
		BatchDelay:   time.Millisecond,
		FlushTimeout: time.Second,
	})
	t.Cleanup(func() { e.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		e.Run(ctx)
	}()

	// The startup drain records a sync time; once it is visible the loop
	// is subscribed and transitions cannot be missed.
	require.Eventually(t, func() bool {
		status, err := e.Status(ctx)
		return err == nil && !status.LastSyncTime.IsZero() && !status.IsSyncing
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, e.SaveEntry(ctx, entry("backgrounded")))

	src.Set(signal.State{Online: true, Connection: signal.ConnectionWifi, Foreground: true})

	require.Eventually(t, func() bool {
		status, err := e.Status(ctx)
		return err == nil && status.PendingCount == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-runDone
}

func TestDeleteEnqueuesDeleteMutation(t *testing.T) {
	tr := newFakeTransport()
	e := testEngine(t, tr, signal.NewStatic(signal.DefaultState()), nil)
	ctx := context.Background()

	require.NoError(t, e.SaveEntry(ctx, entry("doomed")))
	res := e.ForceSyncNow(ctx)
	require.True(t, res.Success)

	require.NoError(t, e.DeleteEntry(ctx, "doomed"))
	_, err := e.GetEntry(ctx, "doomed")
	assert.ErrorIs(t, err, store.ErrNotFound)

	res = e.ForceSyncNow(ctx)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Synced)

	tr.mu.Lock()
	last := tr.sent[len(tr.sent)-1]
	tr.mu.Unlock()
	assert.Equal(t, schema.ActionDelete, last.Action)
	assert.Equal(t, "doomed", last.EntityID)
}

func TestPassContinuesAfterItemFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.failIDs["mid"] = errors.New("connection reset")
	e := testEngine(t, tr, signal.NewStatic(signal.DefaultState()), FixedPolicy{Size: 2})
	ctx := context.Background()

	for _, id := range []string{"one", "mid", "two", "three"} {
		require.NoError(t, e.SaveEntry(ctx, entry(id)))
	}

	res := e.ForceSyncNow(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{"one", "two", "three"}, tr.sentIDs())

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount, "failed item stays queued")
	assert.False(t, status.LastSyncTime.IsZero(), "partial failure still records completion")
}
