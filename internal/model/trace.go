package model

import "time"

// Trace is the metadata surfaced for a stored trace. Span payloads live in
// the trace store and are fetched separately.
type Trace struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	SpanCount  int       `json:"span_count"`
}
