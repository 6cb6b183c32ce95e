package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/secret"
	"github.com/scopeline/authd/internal/service"
)

// SystemHandler serves the internal control surface consumed by the identity
// provider and operators: login-attempt gating and the project directory.
// Every route is guarded by the shared admin token.
type SystemHandler struct {
	store   *config.Store
	lockout *service.Lockout
}

func NewSystemHandler(store *config.Store, lockout *service.Lockout) *SystemHandler {
	return &SystemHandler{store: store, lockout: lockout}
}

// AdminOnly gates the system routes behind a shared token presented in the
// X-Admin-Token header, compared in constant time. While no token is
// configured the whole surface is unavailable rather than open.
func AdminOnly(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				writeError(w, http.StatusServiceUnavailable, "ADMIN_DISABLED",
					"The system API is disabled: no admin token is configured")
				return
			}
			if !secret.ConstantTimeEquals(r.Header.Get("X-Admin-Token"), adminToken) {
				writeError(w, http.StatusUnauthorized, "INVALID_ADMIN_TOKEN", "Invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ---------------------------------------------------------------------------
// Login attempt gating
// ---------------------------------------------------------------------------

type loginCheckRequest struct {
	Identifier string `json:"identifier"`
}

// LoginCheck reports whether a login attempt for the identifier may proceed.
// The identity provider calls this before verifying the password. A locked
// identifier is answered with 429 ACCOUNT_LOCKED and a Retry-After header.
// POST /api/v1/system/login/check
func (h *SystemHandler) LoginCheck(w http.ResponseWriter, r *http.Request) {
	var req loginCheckRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Identifier is required")
		return
	}

	decision, err := h.lockout.CheckAllowed(r.Context(), req.Identifier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Lockout check failed: "+err.Error())
		return
	}
	if !decision.Allowed {
		locked := model.AccountLocked(decision.RetryAfterSeconds)
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		writeError(w, locked.Status, locked.Code, locked.Message, map[string]interface{}{
			"retry_after_seconds": decision.RetryAfterSeconds,
			"failures":            decision.Failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type loginResultRequest struct {
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
}

// LoginResult records the outcome of a password verification. Success clears
// the identifier's failure history; failure increments it and may lock the
// account.
// POST /api/v1/system/login/result
func (h *SystemHandler) LoginResult(w http.ResponseWriter, r *http.Request) {
	var req loginResultRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Identifier is required")
		return
	}

	if req.Success {
		if err := h.lockout.Clear(r.Context(), req.Identifier); err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to clear attempts: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, model.LoginDecision{Allowed: true})
		return
	}

	failures, err := h.lockout.RecordFailure(r.Context(), req.Identifier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to record failure: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"failures": failures})
}

// ---------------------------------------------------------------------------
// Project directory
// ---------------------------------------------------------------------------

type createProjectRequest struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
}

// CreateProject registers a project so credentials and traces can be scoped
// to it.
// POST /api/v1/system/projects
func (h *SystemHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.OrgID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "org_id and name are required")
		return
	}

	project := &model.Project{OrgID: req.OrgID, Name: req.Name}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to create project: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// GetProject returns one project.
// GET /api/v1/system/projects/{id}
func (h *SystemHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load project: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}
