package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/scopeline/authd/internal/audit"
	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
)

const janitorInterval = 10 * time.Minute

// Lockout tracks consecutive password-login failures per identifier and
// locks an identifier out after a threshold of failures. It protects the
// identity provider's password verification, which wraps its checks around
// CheckAllowed / RecordFailure / Clear. Counter increments are atomic in
// the backing store, so the threshold holds across multiple instances.
type Lockout struct {
	store  *config.Store
	audit  *audit.Emitter
	logger *slog.Logger

	threshold int
	window    time.Duration // failure-count and record-expiry window
	lockFor   time.Duration

	janitorStop chan struct{}
	janitorOnce sync.Once
	wg          sync.WaitGroup
}

// NewLockout wires the tracker. threshold is the number of consecutive
// failures that triggers a lock; window bounds how long failures count as
// consecutive; lockFor is the lockout duration.
func NewLockout(store *config.Store, a *audit.Emitter, logger *slog.Logger, threshold int, window, lockFor time.Duration) *Lockout {
	return &Lockout{
		store:       store,
		audit:       a,
		logger:      logger,
		threshold:   threshold,
		window:      window,
		lockFor:     lockFor,
		janitorStop: make(chan struct{}),
	}
}

// NormalizeIdentifier canonicalizes a login identifier so the same account
// always maps to the same attempt record.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// MaskIdentifier redacts an identifier for logging. Identifiers are never
// logged unmasked.
func MaskIdentifier(identifier string) string {
	id := NormalizeIdentifier(identifier)
	at := strings.IndexByte(id, '@')
	if at <= 0 {
		if len(id) <= 2 {
			return "***"
		}
		return id[:2] + "***"
	}
	local := id[:at]
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***" + id[at:]
}

// CheckAllowed reports whether a login attempt for the identifier may
// proceed, with an estimated retry time when locked. A store failure denies
// (fail closed): a lockout that cannot be read must be assumed active.
func (l *Lockout) CheckAllowed(ctx context.Context, identifier string) (model.LoginDecision, error) {
	id := NormalizeIdentifier(identifier)
	now := time.Now().UTC()

	rec, err := l.store.GetLoginAttempt(ctx, id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return model.LoginDecision{Allowed: true}, nil
		}
		l.logger.Error("login attempt lookup failed", "identifier", MaskIdentifier(id), "error", err)
		return model.LoginDecision{Allowed: false}, fmt.Errorf("login attempt lookup: %w", err)
	}

	if rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		return model.LoginDecision{
			Allowed:           false,
			RetryAfterSeconds: retryAfter(now, *rec.LockedUntil),
			Failures:          rec.Failures,
		}, nil
	}

	// Records expire after a window of inactivity.
	if now.Sub(rec.LastFailure) > l.window {
		return model.LoginDecision{Allowed: true}, nil
	}

	// A record at the threshold without a lock row (e.g. written by an
	// older instance) still denies until the lock window elapses.
	if rec.Failures >= l.threshold {
		until := rec.LastFailure.Add(l.lockFor)
		if now.Before(until) {
			return model.LoginDecision{
				Allowed:           false,
				RetryAfterSeconds: retryAfter(now, until),
				Failures:          rec.Failures,
			}, nil
		}
	}

	return model.LoginDecision{Allowed: true, Failures: rec.Failures}, nil
}

// RecordFailure increments the failure counter, creating the record on
// first failure, and locks the identifier once the threshold is reached.
// Returns the new consecutive-failure count.
func (l *Lockout) RecordFailure(ctx context.Context, identifier string) (int, error) {
	id := NormalizeIdentifier(identifier)
	now := time.Now().UTC()

	failures, err := l.store.RecordLoginFailure(ctx, id, now, l.window)
	if err != nil {
		return 0, err
	}

	l.audit.Emit(audit.Event{
		Type:  audit.EventLoginFailed,
		Actor: MaskIdentifier(id),
		Fields: map[string]any{
			"failures": failures,
		},
	})

	if failures >= l.threshold {
		until := now.Add(l.lockFor)
		if err := l.store.LockLoginIdentifier(ctx, id, until); err != nil {
			// The failure count alone already denies via CheckAllowed.
			l.logger.Error("failed to set lockout", "identifier", MaskIdentifier(id), "error", err)
		}
		l.logger.Warn("account locked after repeated login failures",
			"identifier", MaskIdentifier(id), "failures", failures, "until", until)
		l.audit.Emit(audit.Event{
			Type:  audit.EventAccountLocked,
			Actor: MaskIdentifier(id),
			Fields: map[string]any{
				"failures":     failures,
				"locked_until": until,
			},
		})
	}
	return failures, nil
}

// Clear resets the failure record after a verified-successful login.
// Best-effort for the caller: a failed clear must not block the login.
func (l *Lockout) Clear(ctx context.Context, identifier string) error {
	return l.store.ClearLoginAttempts(ctx, NormalizeIdentifier(identifier))
}

// StartJanitor begins periodic purging of stale attempt records. Expiry is
// enforced logically regardless; the janitor only reclaims rows.
func (l *Lockout) StartJanitor() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.janitorStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				cutoff := time.Now().UTC().Add(-l.window)
				if n, err := l.store.PurgeStaleLoginAttempts(ctx, cutoff); err != nil {
					l.logger.Warn("login attempt purge failed", "error", err)
				} else if n > 0 {
					l.logger.Debug("purged stale login attempts", "count", n)
				}
				cancel()
			}
		}
	}()
}

// StopJanitor stops the purge loop.
func (l *Lockout) StopJanitor() {
	l.janitorOnce.Do(func() { close(l.janitorStop) })
	l.wg.Wait()
}

func retryAfter(now, until time.Time) int {
	return int(math.Ceil(until.Sub(now).Seconds()))
}
