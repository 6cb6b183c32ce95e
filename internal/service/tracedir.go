package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
)

const traceLookupTimeout = 3 * time.Second

// TraceStore resolves trace metadata from the trace storage service over its
// internal HTTP API. Only tenant metadata crosses this boundary; span
// payloads never pass through the auth layer.
type TraceStore struct {
	baseURL string
	client  *http.Client
}

// NewTraceStore returns a directory backed by the trace store at baseURL,
// or nil when no URL is configured. A nil *TraceStore is not a usable
// TraceDirectory; callers must treat it as absent.
func NewTraceStore(baseURL string) *TraceStore {
	if baseURL == "" {
		return nil
	}
	return &TraceStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: traceLookupTimeout},
	}
}

// GetTrace fetches one trace's metadata. Unknown ids map to
// config.ErrNotFound so handlers treat store and directory misses alike.
func (s *TraceStore) GetTrace(ctx context.Context, id string) (*model.Trace, error) {
	endpoint := s.baseURL + "/internal/v1/traces/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build trace request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trace store request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, config.ErrNotFound
	default:
		return nil, fmt.Errorf("trace store returned status %d", resp.StatusCode)
	}

	var trace model.Trace
	if err := json.NewDecoder(resp.Body).Decode(&trace); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &trace, nil
}
