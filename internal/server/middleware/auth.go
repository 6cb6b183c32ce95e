package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/scopeline/authd/internal/guard"
	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/service"
)

type contextKey string

const authContextKey contextKey = "auth_context"

const sessionCookieName = "scopeline_session"

// Authenticate resolves the caller identity for every request and stores the
// result in the request context. Resolution failures, including requests
// carrying no credential at all, short-circuit with a JSON error body;
// downstream handlers only ever see a resolved identity.
func Authenticate(resolver *service.Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, authErr := resolver.Resolve(r.Context(), ExtractRequest(r))
			if authErr != nil {
				if errors.Is(authErr, model.ErrInternalLookup) {
					logger.Error("identity resolution failed",
						"request_id", GetRequestID(r.Context()),
						"path", r.URL.Path)
				}
				WriteAuthError(w, authErr)
				return
			}

			ctx := context.WithValue(r.Context(), authContextKey, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractRequest pulls the credential material off an incoming request.
// An explicit X-API-Key header wins; a bearer token is treated as an API key
// when it carries the key prefix and as a session token otherwise. The
// session cookie is the fallback for browser traffic.
func ExtractRequest(r *http.Request) service.Request {
	req := service.Request{
		ProjectID: r.Header.Get("X-Project-ID"),
		RemoteIP:  remoteIP(r),
	}

	req.APIKey = r.Header.Get("X-API-Key")

	if bearer := bearerToken(r); bearer != "" {
		if strings.HasPrefix(bearer, "sl_") {
			if req.APIKey == "" {
				req.APIKey = bearer
			}
		} else {
			req.SessionToken = bearer
		}
	}

	if req.SessionToken == "" {
		if c, err := r.Cookie(sessionCookieName); err == nil {
			req.SessionToken = c.Value
		}
	}

	return req
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func remoteIP(r *http.Request) string {
	// RealIP runs before this middleware, so RemoteAddr may already be a
	// bare IP rather than host:port.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// WithAuthContext returns a context carrying an already-resolved identity.
// Used by entry points that resolve outside the middleware chain, such as
// the WebSocket upgrade handler.
func WithAuthContext(ctx context.Context, ac *model.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// GetAuthContext returns the identity resolved by Authenticate, or the
// anonymous context when called outside the middleware chain.
func GetAuthContext(ctx context.Context) *model.AuthContext {
	if ac, ok := ctx.Value(authContextKey).(*model.AuthContext); ok {
		return ac
	}
	return model.Anonymous
}

// Require enforces an access requirement on the resolved identity.
// It must run after Authenticate.
func Require(q guard.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authErr := q.Check(GetAuthContext(r.Context())); authErr != nil {
				WriteAuthError(w, authErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteAuthError writes the standard error envelope for an access decision.
func WriteAuthError(w http.ResponseWriter, authErr *model.AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authErr.Status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    authErr.Code,
			Status:  authErr.Status,
			Message: authErr.Message,
		},
	})
}
