package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scopeline/authd/internal/cache"
	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/service"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testSessionSecret = "test-session-signing-secret"
	testAdminToken    = "test-admin-token"
)

type fakeTraceDir map[string]*model.Trace

func (d fakeTraceDir) GetTrace(_ context.Context, id string) (*model.Trace, error) {
	if tr, ok := d[id]; ok {
		return tr, nil
	}
	return nil, config.ErrNotFound
}

// testEnv holds the shared state for integration tests: an in-memory store
// and a fully wired Server.
type testEnv struct {
	server   *Server
	store    *config.Store
	creds    *service.Credentials
	sessions *service.SessionVerifier
	traces   fakeTraceDir
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore("sqlite", "")
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	credCache := cache.New(store, 128, time.Minute, time.Second)
	creds := service.NewCredentials(store, credCache, nil, logger)
	sessions := service.NewSessionVerifier(testSessionSecret)
	resolver := service.NewResolver(creds, sessions, store, nil, logger)
	lockout := service.NewLockout(store, nil, logger, 5, 15*time.Minute, 15*time.Minute)

	traces := fakeTraceDir{
		"tr-1": {ID: "tr-1", OrgID: "org-1", ProjectID: "proj-a", Name: "checkout"},
		"tr-2": {ID: "tr-2", OrgID: "org-1", ProjectID: "proj-b", Name: "search"},
		"tr-9": {ID: "tr-9", OrgID: "org-2", ProjectID: "proj-z", Name: "foreign"},
	}

	cfg := DefaultConfig()
	cfg.AdminToken = testAdminToken
	srv := New(cfg, Deps{
		Store:    store,
		Creds:    creds,
		Resolver: resolver,
		Lockout:  lockout,
		Traces:   traces,
		Logger:   logger,
	})

	return &testEnv{server: srv, store: store, creds: creds, sessions: sessions, traces: traces}
}

func (e *testEnv) issueKey(t *testing.T, spec service.CreateSpec) (*model.Credential, string) {
	t.Helper()
	if spec.UserID == "" {
		spec.UserID = "user-1"
	}
	cred, raw, err := e.creds.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("Create credential: %v", err)
	}
	return cred, raw
}

func (e *testEnv) sessionToken(t *testing.T, sess *model.Session) string {
	t.Helper()
	tok, err := e.sessions.Issue(sess, time.Hour)
	if err != nil {
		t.Fatalf("Issue session: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v (body: %s)", err, rec.Body.String())
	}
	return resp.Error.Code
}

func keyHeader(raw string) map[string]string {
	return map[string]string{"X-API-Key": raw}
}

func sessionHeader(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/readyz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// API key authentication end to end
// ---------------------------------------------------------------------------

func TestTraceWithAPIKey(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.issueKey(t, service.CreateSpec{
		Name: "reader", OrgID: "org-1", Permissions: []string{"traces:read"},
	})

	rec := env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader(raw))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var trace model.Trace
	if err := json.NewDecoder(rec.Body).Decode(&trace); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if trace.ID != "tr-1" {
		t.Fatalf("trace id = %q", trace.ID)
	}
}

func TestTraceWithUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v1/traces/tr-1", nil,
		keyHeader("sl_live_000000000000000000000000000000000000000000000000"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "UNKNOWN_CREDENTIAL" {
		t.Fatalf("code = %q", code)
	}
}

func TestTraceWithMalformedKey(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader("sl_live_not-hex"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "MALFORMED_CREDENTIAL" {
		t.Fatalf("code = %q", code)
	}
}

func TestTraceKeyWithoutPermission(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.issueKey(t, service.CreateSpec{
		Name: "writer", OrgID: "org-1", Permissions: []string{"traces:write"},
	})

	rec := env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader(raw))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTraceProjectBoundKeyCrossProject(t *testing.T) {
	env := newTestEnv(t)
	project := &model.Project{ID: "proj-a", OrgID: "org-1", Name: "checkout"}
	if err := env.store.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	_, raw := env.issueKey(t, service.CreateSpec{
		Name: "bound", OrgID: "org-1", ProjectID: "proj-a",
		Permissions: []string{"traces:read"},
	})

	rec := env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader(raw))
	if rec.Code != http.StatusOK {
		t.Fatalf("in-project: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/api/v1/traces/tr-2", nil, keyHeader(raw))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-project: status = %d, want 403", rec.Code)
	}
}

func TestTraceCrossOrgAPIKey(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.issueKey(t, service.CreateSpec{
		Name: "reader", OrgID: "org-1", Permissions: []string{"traces:read"},
	})

	rec := env.do(t, "GET", "/api/v1/traces/tr-9", nil, keyHeader(raw))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestTraceCrossOrgSession(t *testing.T) {
	env := newTestEnv(t)
	tok := env.sessionToken(t, &model.Session{
		UserID: "u1", OrgID: "org-1", Role: model.RoleMember,
	})

	rec := env.do(t, "GET", "/api/v1/traces/tr-9", nil, sessionHeader(tok))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestRateLimitPerCredential(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.issueKey(t, service.CreateSpec{
		Name: "limited", OrgID: "org-1", RateLimit: 5,
		Permissions: []string{"traces:read"},
	})

	for i := 0; i < 5; i++ {
		rec := env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader(raw))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader(raw))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if code := errorCode(t, rec); code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("code = %q", code)
	}

	// Another credential is unaffected.
	_, other := env.issueKey(t, service.CreateSpec{
		Name: "other", OrgID: "org-1", RateLimit: 5,
		Permissions: []string{"traces:read"},
	})
	rec = env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader(other))
	if rec.Code != http.StatusOK {
		t.Fatalf("other credential: status = %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Credential management routes
// ---------------------------------------------------------------------------

func adminToken2FA(t *testing.T, env *testEnv, org string) string {
	t.Helper()
	return env.sessionToken(t, &model.Session{
		UserID: "admin-1", OrgID: org, Role: model.RoleAdmin, TwoFactor: true,
	})
}

func TestCredentialLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	tok := adminToken2FA(t, env, "org-1")

	rec := env.do(t, "POST", "/api/v1/credentials", map[string]interface{}{
		"name":        "sdk",
		"permissions": []string{"traces:read"},
	}, sessionHeader(tok))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Credential model.Credential `json:"credential"`
		Secret     string           `json:"secret"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Secret, "sl_live_") {
		t.Fatalf("secret = %q", created.Secret)
	}

	// The fresh key authenticates.
	rec = env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader(created.Secret))
	if rec.Code != http.StatusOK {
		t.Fatalf("auth with new key: status = %d", rec.Code)
	}

	// Revocation is effective immediately, even with a warm cache.
	rec = env.do(t, "DELETE", "/api/v1/credentials/"+created.Credential.ID, nil, sessionHeader(tok))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = env.do(t, "GET", "/api/v1/traces/tr-1", nil, keyHeader(created.Secret))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("auth after revoke: status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec); code != "UNKNOWN_CREDENTIAL" {
		t.Fatalf("code = %q", code)
	}
}

func TestCredentialMutationRequiresElevatedRole(t *testing.T) {
	env := newTestEnv(t)
	tok := env.sessionToken(t, &model.Session{
		UserID: "u1", OrgID: "org-1", Role: model.RoleMember, TwoFactor: true,
	})

	rec := env.do(t, "POST", "/api/v1/credentials", map[string]interface{}{
		"name": "nope",
	}, sessionHeader(tok))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	// Reads are open to members.
	rec = env.do(t, "GET", "/api/v1/credentials", nil, sessionHeader(tok))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
}

func TestCredentialMutationRequiresTwoFactor(t *testing.T) {
	env := newTestEnv(t)
	tok := env.sessionToken(t, &model.Session{
		UserID: "admin-1", OrgID: "org-1", Role: model.RoleAdmin,
	})

	rec := env.do(t, "POST", "/api/v1/credentials", map[string]interface{}{
		"name": "no-mfa",
	}, sessionHeader(tok))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if code := errorCode(t, rec); code != "2FA_REQUIRED" {
		t.Fatalf("code = %q", code)
	}
}

func TestCredentialRoutesRejectAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.issueKey(t, service.CreateSpec{
		Name: "reader", OrgID: "org-1", Permissions: []string{"traces:read"},
	})

	rec := env.do(t, "GET", "/api/v1/credentials", nil, keyHeader(raw))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAnonymousRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/v1/credentials", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "MISSING_CREDENTIAL" {
		t.Fatalf("code = %q", code)
	}
}

// ---------------------------------------------------------------------------
// System routes
// ---------------------------------------------------------------------------

func TestSystemRequiresAdminToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/v1/system/login/check",
		map[string]interface{}{"identifier": "a@example.com"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	rec = env.do(t, "POST", "/api/v1/system/login/check",
		map[string]interface{}{"identifier": "a@example.com"},
		map[string]string{"X-Admin-Token": testAdminToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSystemDisabledWithoutConfiguredToken(t *testing.T) {
	env := newTestEnv(t)
	srv := New(DefaultConfig(), env.server.deps)

	req := httptest.NewRequest("POST", "/api/v1/system/login/check",
		strings.NewReader(`{"identifier":"a@example.com"}`))
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// WebSocket stream
// ---------------------------------------------------------------------------

func TestStreamHandshake(t *testing.T) {
	env := newTestEnv(t)
	_, raw := env.issueKey(t, service.CreateSpec{
		Name: "streamer", OrgID: "org-1", Permissions: []string{"traces:read"},
	})

	ts := httptest.NewServer(env.server)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream?api_key=" + raw
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var handshake model.HandshakeResult
	if err := conn.ReadJSON(&handshake); err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if !handshake.Authenticated {
		t.Fatal("handshake not authenticated")
	}
	if handshake.OrgID != "org-1" {
		t.Fatalf("OrgID = %q", handshake.OrgID)
	}
	if handshake.AuthType != model.AuthTypeAPIKey {
		t.Fatalf("AuthType = %q", handshake.AuthType)
	}
}

func TestStreamRejectsBadKey(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream?api_key=sl_live_bogus"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded with bad key")
	}
	if resp == nil {
		t.Fatal("no HTTP response from rejected upgrade")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
