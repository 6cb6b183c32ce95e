package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scopeline/authd/internal/audit"
	"github.com/scopeline/authd/internal/cache"
	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/secret"
)

const touchTimeout = 3 * time.Second

// ErrProjectMismatch is returned when a credential is scoped to a project
// outside its organization.
var ErrProjectMismatch = errors.New("project does not belong to the organization")

// Credentials owns the credential lifecycle: issuance, lookup through the
// cache, mutation, and revocation. Every mutation invalidates the cache
// entry for the record's hash before the call returns, so a revoked or
// reconfigured credential is never honored from a stale cache read after
// the mutation is acknowledged.
type Credentials struct {
	store  *config.Store
	cache  *cache.Credentials
	audit  *audit.Emitter
	logger *slog.Logger
}

// NewCredentials wires the credential service.
func NewCredentials(store *config.Store, c *cache.Credentials, a *audit.Emitter, logger *slog.Logger) *Credentials {
	return &Credentials{store: store, cache: c, audit: a, logger: logger}
}

// CreateSpec describes a credential to issue.
type CreateSpec struct {
	Name        string
	Kind        secret.Kind
	UserID      string
	OrgID       string
	ProjectID   string
	Permissions []string
	RateLimit   int
	AllowedIPs  []string
	ExpiresAt   *time.Time
}

// Create issues a new credential. The returned raw secret is shown to the
// caller exactly once; only its hash is stored.
func (s *Credentials) Create(ctx context.Context, spec CreateSpec) (*model.Credential, string, error) {
	if spec.UserID == "" {
		return nil, "", errors.New("credential requires an owning user")
	}
	if spec.Kind == "" {
		spec.Kind = secret.KindLive
	}
	if spec.RateLimit <= 0 {
		spec.RateLimit = 60
	}
	if spec.ProjectID != "" {
		p, err := s.store.GetProject(ctx, spec.ProjectID)
		if err != nil {
			if errors.Is(err, config.ErrNotFound) {
				return nil, "", ErrProjectMismatch
			}
			return nil, "", fmt.Errorf("verify project scope: %w", err)
		}
		if p.OrgID != spec.OrgID {
			return nil, "", ErrProjectMismatch
		}
	}

	g, err := secret.Generate(spec.Kind)
	if err != nil {
		return nil, "", err
	}

	cred := &model.Credential{
		Name:        spec.Name,
		SecretHash:  g.Hash,
		Prefix:      g.Prefix,
		UserID:      spec.UserID,
		OrgID:       spec.OrgID,
		ProjectID:   spec.ProjectID,
		Permissions: spec.Permissions,
		RateLimit:   spec.RateLimit,
		AllowedIPs:  spec.AllowedIPs,
		ExpiresAt:   spec.ExpiresAt,
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return nil, "", err
	}

	s.audit.Emit(audit.Event{
		Type:  audit.EventCredentialCreated,
		Actor: spec.UserID,
		OrgID: spec.OrgID,
		Fields: map[string]any{
			"credential_id": cred.ID,
			"prefix":        cred.Prefix,
		},
	})
	return cred, g.Secret, nil
}

// Lookup resolves a secret hash to a credential through the read-through
// cache.
func (s *Credentials) Lookup(ctx context.Context, hash string) (*model.Credential, error) {
	return s.cache.Get(ctx, hash)
}

// Get returns a credential by id, bypassing the cache (management reads are
// not on the hot path and must see the source of truth).
func (s *Credentials) Get(ctx context.Context, id string) (*model.Credential, error) {
	return s.store.GetCredential(ctx, id)
}

// List returns the credentials scoped to an organization.
func (s *Credentials) List(ctx context.Context, orgID string) ([]model.Credential, error) {
	return s.store.ListCredentials(ctx, orgID)
}

// Update applies a partial update. The cache entry for the credential's
// hash is invalidated before Update returns, so the next request using the
// credential observes the new configuration.
func (s *Credentials) Update(ctx context.Context, id string, patch config.CredentialPatch) (*model.Credential, error) {
	updated, err := s.store.UpdateCredential(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(updated.SecretHash)
	return updated, nil
}

// Delete revokes a credential. The cache entry is invalidated before Delete
// returns success: once the caller sees the ack, no resolution attempt with
// the original secret can succeed.
func (s *Credentials) Delete(ctx context.Context, id string, actor string) error {
	deleted, err := s.store.DeleteCredential(ctx, id)
	if err != nil {
		return err
	}
	s.cache.Invalidate(deleted.SecretHash)

	s.audit.Emit(audit.Event{
		Type:  audit.EventCredentialDeleted,
		Actor: actor,
		OrgID: deleted.OrgID,
		Fields: map[string]any{
			"credential_id": deleted.ID,
			"prefix":        deleted.Prefix,
		},
	})
	return nil
}

// TouchLastUsedAsync records credential usage off the request path.
// Failure to record last-used must never fail the request.
func (s *Credentials) TouchLastUsedAsync(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.store.TouchCredentialLastUsed(ctx, id); err != nil {
			s.logger.Warn("failed to record credential last-used", "credential_id", id, "error", err)
		}
	}()
}
