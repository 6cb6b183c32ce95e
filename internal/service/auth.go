// Package service implements the request-facing security services: the
// identity resolver, credential lifecycle, session verification, and
// login-attempt lockout. All authentication and authorization decisions in
// this package fail closed: ambiguity, missing data, or internal lookup
// errors deny access. Best-effort side effects (last-used timestamps,
// audit events) fail open and never alter a decision already made.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/scopeline/authd/internal/audit"
	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/secret"
)

// usedEventSampleRate emits one credential.used audit event per this many
// API-key requests. Usage events are volume telemetry, not a security
// record, so sampling is acceptable.
const usedEventSampleRate = 100

// ProjectDirectory is the single scoped read the session path needs: which
// organization a project belongs to. *config.Store satisfies it.
type ProjectDirectory interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
}

// Request is the credential material extracted from an inbound request.
type Request struct {
	// APIKey is the bearer secret from the x-api-key header, the
	// Authorization header, or a WebSocket connection parameter.
	APIKey string
	// SessionToken is the upstream identity provider's session token,
	// when present.
	SessionToken string
	// RemoteIP is the caller's source address, for IP allow-list checks.
	RemoteIP string
	// ProjectID is the project scope the request asks for, if any.
	ProjectID string
}

// Resolver decides, for every inbound request, who is calling and within
// what tenant scope. API-key material takes priority over a coexisting
// session: a bearer credential is the more specific, intentional signal,
// and a present-but-invalid key is a hard failure that never degrades to
// session auth.
type Resolver struct {
	creds    *Credentials
	sessions *SessionVerifier
	projects ProjectDirectory
	audit    *audit.Emitter
	logger   *slog.Logger

	usedCounter atomic.Uint64
}

// NewResolver wires the resolver.
func NewResolver(creds *Credentials, sessions *SessionVerifier, projects ProjectDirectory, a *audit.Emitter, logger *slog.Logger) *Resolver {
	return &Resolver{
		creds:    creds,
		sessions: sessions,
		projects: projects,
		audit:    a,
		logger:   logger,
	}
}

// Resolve runs the identity state machine. It returns a non-nil
// AuthContext on success, or a *model.AuthError describing the denial.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*model.AuthContext, *model.AuthError) {
	if req.APIKey != "" {
		return r.resolveAPIKey(ctx, req)
	}
	if req.SessionToken != "" {
		return r.resolveSession(ctx, req)
	}
	return nil, model.ErrMissingCredential
}

func (r *Resolver) resolveAPIKey(ctx context.Context, req Request) (*model.AuthContext, *model.AuthError) {
	// Reject garbage before any hashing or lookup.
	if !secret.ValidFormat(req.APIKey) {
		return nil, model.ErrMalformedCredential
	}

	cred, err := r.creds.Lookup(ctx, secret.Hash(req.APIKey))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, model.ErrUnknownCredential
		}
		// Store or cache failure: deny, but keep it distinguishable from a
		// legitimate unknown credential in the logs.
		r.logger.Error("credential lookup failed", "error", err)
		return nil, model.ErrInternalLookup
	}

	if cred.Expired(time.Now()) {
		return nil, model.ErrExpiredCredential
	}
	if !cred.IPAllowed(req.RemoteIP) {
		return nil, model.ErrIPNotAllowed
	}

	r.creds.TouchLastUsedAsync(cred.ID)
	if r.usedCounter.Add(1)%usedEventSampleRate == 1 {
		r.audit.Emit(audit.Event{
			Type:  audit.EventCredentialUsed,
			Actor: cred.UserID,
			OrgID: cred.OrgID,
			Fields: map[string]any{
				"credential_id": cred.ID,
				"sample_rate":   usedEventSampleRate,
			},
		})
	}

	return &model.AuthContext{
		Type:       model.AuthTypeAPIKey,
		Credential: cred,
		OrgID:      cred.OrgID,
		ProjectID:  cred.ProjectID,
	}, nil
}

func (r *Resolver) resolveSession(ctx context.Context, req Request) (*model.AuthContext, *model.AuthError) {
	sess, err := r.sessions.Verify(req.SessionToken)
	if err != nil {
		// An unverifiable session is no session.
		return nil, model.ErrMissingCredential
	}

	projectID := ""
	if req.ProjectID != "" {
		p, err := r.projects.GetProject(ctx, req.ProjectID)
		if err != nil {
			if errors.Is(err, config.ErrNotFound) {
				return nil, model.ErrProjectNotFound
			}
			r.logger.Error("project scope lookup failed", "error", err)
			return nil, model.ErrInternalLookup
		}
		if p.OrgID != sess.OrgID {
			// Cross-tenant probe: indistinguishable from a project that
			// does not exist.
			return nil, model.ErrProjectNotFound
		}
		projectID = p.ID
	}

	return &model.AuthContext{
		Type:      model.AuthTypeSession,
		Session:   sess,
		OrgID:     sess.OrgID,
		ProjectID: projectID,
	}, nil
}
