// Package audit emits security audit events to an external collector.
// Emission is fire-and-forget: audit is observability, not security, so a
// failed or dropped event is logged and never surfaces to the request that
// produced it.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event types emitted by the credential core.
const (
	EventCredentialCreated = "credential.created"
	EventCredentialDeleted = "credential.deleted"
	EventCredentialUsed    = "credential.used"
	EventLoginFailed       = "login.failed"
	EventAccountLocked     = "account.locked"
)

const (
	httpTimeout = 3 * time.Second
	queueSize   = 256
)

// Event is a single audit record.
type Event struct {
	Type   string         `json:"type"`
	Time   time.Time      `json:"time"`
	Actor  string         `json:"actor,omitempty"`
	OrgID  string         `json:"org_id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Emitter posts events to the audit collector from a background worker.
// A nil *Emitter is valid and discards everything, so callers never need
// to branch on whether auditing is configured.
type Emitter struct {
	url    string
	client *http.Client
	logger *slog.Logger

	ch     chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Emitter posting to collectorURL. Returns nil when no
// collector is configured.
func New(collectorURL string, logger *slog.Logger) *Emitter {
	if collectorURL == "" {
		return nil
	}
	return &Emitter{
		url:    collectorURL,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger,
		ch:     make(chan Event, queueSize),
	}
}

// Start launches the background delivery worker. Non-blocking.
func (e *Emitter) Start() {
	if e == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-e.ch:
				if err := e.post(ctx, evt); err != nil {
					e.logger.Warn("audit event delivery failed", "type", evt.Type, "error", err)
				}
			}
		}
	}()
}

// Stop shuts down the worker. Queued events that have not been delivered
// are dropped.
func (e *Emitter) Stop() {
	if e == nil || e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
}

// Emit queues an event for delivery. Never blocks: if the queue is full the
// event is dropped and a warning logged.
func (e *Emitter) Emit(evt Event) {
	if e == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	select {
	case e.ch <- evt:
	default:
		e.logger.Warn("audit queue full, dropping event", "type", evt.Type)
	}
}

func (e *Emitter) post(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post audit event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("audit collector returned %d", resp.StatusCode)
	}
	return nil
}
