package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/httprate"

	"github.com/scopeline/authd/internal/model"
)

const rateLimitWindow = time.Minute

// CredentialLimiter throttles requests per API key using each credential's
// stored per-minute limit. Counters are sliding-window and kept per process;
// session and anonymous traffic passes through untouched.
type CredentialLimiter struct {
	mu       sync.Mutex
	limiters map[string]*credLimiter
}

type credLimiter struct {
	limit   int
	limiter *httprate.RateLimiter
}

func NewCredentialLimiter() *CredentialLimiter {
	return &CredentialLimiter{limiters: make(map[string]*credLimiter)}
}

// Handler applies the limiter to the wrapped handler chain. It must run
// after Authenticate so the credential identity is available.
func (cl *CredentialLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := GetAuthContext(r.Context())
		if ac.Type != model.AuthTypeAPIKey || ac.Credential == nil {
			next.ServeHTTP(w, r)
			return
		}

		limiter := cl.limiterFor(ac.Credential.ID, ac.Credential.RateLimit)
		if limiter.OnLimit(w, r, ac.Credential.ID) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterFor returns the counter for a credential, rebuilding it when the
// stored limit changed so updates take effect on the next request.
func (cl *CredentialLimiter) limiterFor(credID string, limit int) *httprate.RateLimiter {
	if limit <= 0 {
		limit = 1
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if entry, ok := cl.limiters[credID]; ok && entry.limit == limit {
		return entry.limiter
	}

	limiter := httprate.NewRateLimiter(limit, rateLimitWindow,
		httprate.WithLimitHandler(rateLimitExceeded))
	cl.limiters[credID] = &credLimiter{limit: limit, limiter: limiter}
	return limiter
}

// Forget drops the counter for a credential, e.g. after revocation.
func (cl *CredentialLimiter) Forget(credID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, credID)
}

func rateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	retryAfter := int(rateLimitWindow / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteAuthError(w, model.RateLimitExceeded(retryAfter))
}
