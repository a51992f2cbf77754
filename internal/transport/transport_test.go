package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecolog/ecolog/internal/schema"
)

func fastClient(baseURL string) *HTTPClient {
	return NewHTTPClient(Config{
		BaseURL:           baseURL,
		Timeout:           500 * time.Millisecond,
		MaxAttemptRetries: 2,
		InitialRetryDelay: 10 * time.Millisecond,
	})
}

func createMutation(t *testing.T) Mutation {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"id": "en-1", "weight_kg": 0.5})
	require.NoError(t, err)
	return Mutation{
		Action:     schema.ActionCreate,
		EntityType: schema.EntityEntry,
		EntityID:   "en-1",
		Payload:    payload,
	}
}

func TestSendRESTMapping(t *testing.T) {
	type seen struct {
		method, path, idempotency string
	}
	var got seen

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = seen{method: r.Method, path: r.URL.Path, idempotency: r.Header.Get("Idempotency-Key")}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := fastClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, h.Send(ctx, createMutation(t)))
	assert.Equal(t, seen{"POST", "/entries", "en-1"}, got)

	m := createMutation(t)
	m.Action = schema.ActionUpdate
	require.NoError(t, h.Send(ctx, m))
	assert.Equal(t, seen{"PUT", "/entries/en-1", ""}, got)

	m.Action = schema.ActionDelete
	require.NoError(t, h.Send(ctx, m))
	assert.Equal(t, seen{"DELETE", "/entries/en-1", ""}, got)
}

func TestSendRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	h := fastClient(srv.URL)
	require.NoError(t, h.Send(context.Background(), createMutation(t)))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "expected 1 attempt + 2 nested retries")
}

func TestSendExhaustsNestedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := fastClient(srv.URL)
	err := h.Send(context.Background(), createMutation(t))
	require.Error(t, err)
	// One Send is one outbox-level failure regardless of nested attempts.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	h := fastClient(srv.URL)
	err := h.Send(context.Background(), createMutation(t))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestSendTimeoutCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTPClient(Config{
		BaseURL:           srv.URL,
		Timeout:           20 * time.Millisecond,
		MaxAttemptRetries: 1,
		InitialRetryDelay: 5 * time.Millisecond,
	})
	err := h.Send(context.Background(), createMutation(t))
	require.Error(t, err)
}

func TestMutationFromItem(t *testing.T) {
	payload, _ := json.Marshal(schema.DeleteKey{ID: "en-9"})
	item := &schema.OutboxItem{
		ID:         schema.NewOutboxID(schema.ActionDelete, schema.EntityEntry, time.Now()),
		Action:     schema.ActionDelete,
		EntityType: schema.EntityEntry,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	m, err := MutationFromItem(item)
	require.NoError(t, err)
	assert.Equal(t, "en-9", m.EntityID)
	assert.Equal(t, schema.ActionDelete, m.Action)

	item.Payload = []byte(`{"category":"plastic"}`)
	_, err = MutationFromItem(item)
	require.Error(t, err, "payload without id is corruption")
}
