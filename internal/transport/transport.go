// Package transport implements the HTTP client the sync engine uses to
// deliver outbox mutations to the remote service.
//
// The remote contract is one REST endpoint per entity type: POST creates,
// PUT /{id} updates, DELETE /{id} deletes. Any 2xx is success; any other
// status or transport error is a failure the engine can retry.
//
// Each request carries its own timeout and up to two transport-level
// retries with increasing delay. These nested retries are invisible to the
// outbox: however many attempts a Send makes, the engine sees one success
// or one failure per item.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/ecolog/ecolog/internal/schema"
)

// Mutation is one remote mutation derived from an outbox item.
type Mutation struct {
	Action     schema.Action
	EntityType string
	EntityID   string
	Payload    json.RawMessage // body for create/update; unused for delete
}

// Transport delivers mutations to the remote service.
type Transport interface {
	Send(ctx context.Context, m Mutation) error
}

// RequestError reports a non-2xx response. Transport-level errors (timeout,
// connection refused) are returned as-is, wrapped.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Status, e.Body)
}

// Config tunes the HTTP client.
type Config struct {
	BaseURL string
	// Timeout bounds each individual attempt. Default 10s.
	Timeout time.Duration
	// MaxAttemptRetries is the number of nested transport-level retries
	// per Send. Default 2.
	MaxAttemptRetries uint64
	// InitialRetryDelay is the delay before the first nested retry;
	// subsequent delays increase. Default 1s.
	InitialRetryDelay time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Timeout == 0 {
		out.Timeout = 10 * time.Second
	}
	if out.MaxAttemptRetries == 0 {
		out.MaxAttemptRetries = 2
	}
	if out.InitialRetryDelay == 0 {
		out.InitialRetryDelay = time.Second
	}
	return out
}

// HTTPClient is the net/http-backed Transport.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPClient creates a Transport against cfg.BaseURL.
func NewHTTPClient(cfg Config) *HTTPClient {
	c := cfg.withDefaults()
	return &HTTPClient{
		cfg:    c,
		client: &http.Client{},
	}
}

// MutationFromItem converts an outbox item into a Mutation, extracting the
// entity key from the payload. A payload without an "id" is queue
// corruption and surfaces as an error.
func MutationFromItem(item *schema.OutboxItem) (Mutation, error) {
	var key schema.DeleteKey
	if err := json.Unmarshal(item.Payload, &key); err != nil {
		return Mutation{}, fmt.Errorf("parsing payload of %s: %w", item.ID, err)
	}
	if key.ID == "" {
		return Mutation{}, fmt.Errorf("payload of %s has no entity id", item.ID)
	}
	return Mutation{
		Action:     item.Action,
		EntityType: item.EntityType,
		EntityID:   key.ID,
		Payload:    item.Payload,
	}, nil
}

// Send implements Transport. Network errors, timeouts, and 5xx responses
// are retried on the nested schedule; 4xx responses are permanent (the
// request will not get better by repeating it) and fail immediately.
func (h *HTTPClient) Send(ctx context.Context, m Mutation) error {
	operation := func() error {
		return h.attempt(ctx, m)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.cfg.InitialRetryDelay
	b.Multiplier = 5 // 1s, then 5s
	b.RandomizationFactor = 0

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, h.cfg.MaxAttemptRetries), ctx))
	if err != nil {
		return fmt.Errorf("sending %s %s/%s: %w", m.Action, m.EntityType, m.EntityID, err)
	}
	return nil
}

// attempt performs one HTTP request with its own timeout.
func (h *HTTPClient) attempt(ctx context.Context, m Mutation) error {
	attemptCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := h.buildRequest(attemptCtx, m)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{
			"action": m.Action,
			"entity": m.EntityID,
		}).WithError(err).Debug("transport attempt failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	reqErr := &RequestError{Status: resp.StatusCode, Body: string(body)}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(reqErr)
	}
	return reqErr
}

func (h *HTTPClient) buildRequest(ctx context.Context, m Mutation) (*http.Request, error) {
	var method, url string
	var body io.Reader

	switch m.Action {
	case schema.ActionCreate:
		method = http.MethodPost
		url = fmt.Sprintf("%s/%s", h.cfg.BaseURL, m.EntityType)
		body = bytes.NewReader(m.Payload)
	case schema.ActionUpdate:
		method = http.MethodPut
		url = fmt.Sprintf("%s/%s/%s", h.cfg.BaseURL, m.EntityType, m.EntityID)
		body = bytes.NewReader(m.Payload)
	case schema.ActionDelete:
		method = http.MethodDelete
		url = fmt.Sprintf("%s/%s/%s", h.cfg.BaseURL, m.EntityType, m.EntityID)
	default:
		return nil, fmt.Errorf("unknown action %q", m.Action)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.Action == schema.ActionCreate {
		// The client-generated entity ID doubles as an idempotency key so
		// a duplicate CREATE after a false-negative timeout can be
		// deduplicated server-side.
		req.Header.Set("Idempotency-Key", m.EntityID)
	}
	return req, nil
}
