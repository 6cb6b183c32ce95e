package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/secret"
	"github.com/scopeline/authd/internal/server/middleware"
	"github.com/scopeline/authd/internal/service"
)

// CredentialHandler exposes the credential lifecycle over HTTP. All routes
// are organization-scoped: callers only ever see credentials belonging to
// the organization resolved on the request.
type CredentialHandler struct {
	creds *service.Credentials

	// onRevoke is called with the credential id after a delete so
	// per-credential request counters can be dropped. May be nil.
	onRevoke func(credID string)
}

func NewCredentialHandler(creds *service.Credentials, onRevoke func(credID string)) *CredentialHandler {
	return &CredentialHandler{creds: creds, onRevoke: onRevoke}
}

type createCredentialRequest struct {
	Name        string     `json:"name"`
	Kind        string     `json:"kind,omitempty"`
	ProjectID   string     `json:"project_id,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	RateLimit   int        `json:"rate_limit,omitempty"`
	AllowedIPs  []string   `json:"allowed_ips,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type createCredentialResponse struct {
	Credential *model.Credential `json:"credential"`
	Secret     string            `json:"secret"`
}

// Create issues a new credential for the caller's organization and returns
// the raw secret exactly once.
// POST /api/v1/credentials
func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r.Context())

	var req createCredentialRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Credential name is required")
		return
	}

	kind := secret.KindLive
	switch req.Kind {
	case "", string(secret.KindLive):
	case string(secret.KindTest):
		kind = secret.KindTest
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Kind must be \"live\" or \"test\"")
		return
	}

	cred, raw, err := h.creds.Create(r.Context(), service.CreateSpec{
		Name:        req.Name,
		Kind:        kind,
		UserID:      ac.UserID(),
		OrgID:       ac.OrgID,
		ProjectID:   req.ProjectID,
		Permissions: req.Permissions,
		RateLimit:   req.RateLimit,
		AllowedIPs:  req.AllowedIPs,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, service.ErrProjectMismatch) || errors.Is(err, config.ErrNotFound) {
			writeAuthError(w, model.ErrProjectNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to create credential: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createCredentialResponse{Credential: cred, Secret: raw})
}

// List returns the caller organization's credentials, hashes omitted.
// GET /api/v1/credentials
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r.Context())

	creds, err := h.creds.List(r.Context(), ac.OrgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to list credentials: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": creds})
}

// Get returns a single credential by id.
// GET /api/v1/credentials/{id}
func (h *CredentialHandler) Get(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.ownedCredential(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

type updateCredentialRequest struct {
	Name        *string   `json:"name,omitempty"`
	RateLimit   *int      `json:"rate_limit,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
	AllowedIPs  *[]string `json:"allowed_ips,omitempty"`
}

// Update applies a partial update. The secret and its hash are immutable;
// rotating a key means issuing a new credential.
// PATCH /api/v1/credentials/{id}
func (h *CredentialHandler) Update(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.ownedCredential(w, r)
	if !ok {
		return
	}

	var req updateCredentialRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	updated, err := h.creds.Update(r.Context(), cred.ID, config.CredentialPatch{
		Name:        req.Name,
		RateLimit:   req.RateLimit,
		Permissions: req.Permissions,
		AllowedIPs:  req.AllowedIPs,
	})
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Credential not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to update credential: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete revokes a credential. Revocation is effective for new requests as
// soon as the response is written.
// DELETE /api/v1/credentials/{id}
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r.Context())
	cred, ok := h.ownedCredential(w, r)
	if !ok {
		return
	}

	if err := h.creds.Delete(r.Context(), cred.ID, ac.UserID()); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Credential not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to delete credential: "+err.Error())
		return
	}
	if h.onRevoke != nil {
		h.onRevoke(cred.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedCredential loads the credential addressed by the route and verifies
// it belongs to the caller's organization. Foreign credentials read as not
// found so ids leak nothing across tenants.
func (h *CredentialHandler) ownedCredential(w http.ResponseWriter, r *http.Request) (*model.Credential, bool) {
	ac := middleware.GetAuthContext(r.Context())
	id := chi.URLParam(r, "id")

	cred, err := h.creds.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Credential not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load credential: "+err.Error())
		return nil, false
	}
	if cred.OrgID != ac.OrgID {
		writeError(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Credential not found")
		return nil, false
	}
	return cred, true
}
