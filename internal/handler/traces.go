package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/server/middleware"
)

// TraceDirectory resolves trace ids to their tenant metadata. Implementations
// return config.ErrNotFound for unknown ids.
type TraceDirectory interface {
	GetTrace(ctx context.Context, id string) (*model.Trace, error)
}

// TraceHandler serves trace metadata with tenant scoping enforced against
// the resolved identity.
type TraceHandler struct {
	dir TraceDirectory
}

func NewTraceHandler(dir TraceDirectory) *TraceHandler {
	return &TraceHandler{dir: dir}
}

// Get returns one trace. Session callers see traces across their whole
// organization; API keys bound to a project see only that project.
// GET /api/v1/traces/{id}
func (h *TraceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r.Context())
	id := chi.URLParam(r, "id")

	if h.dir == nil {
		writeError(w, http.StatusServiceUnavailable, "TRACES_UNAVAILABLE",
			"No trace store is configured")
		return
	}

	trace, err := h.dir.GetTrace(r.Context(), id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "TRACE_NOT_FOUND", "Trace not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to load trace: "+err.Error())
		return
	}

	if trace.OrgID != ac.OrgID {
		// API keys get an explicit denial: the key already proved membership
		// of some organization. Sessions get information hiding instead,
		// since browsing users probe ids freely.
		if ac.Type == model.AuthTypeAPIKey {
			writeAuthError(w, model.InsufficientPermission("traces:read"))
			return
		}
		writeError(w, http.StatusNotFound, "TRACE_NOT_FOUND", "Trace not found")
		return
	}
	if ac.ProjectID != "" && trace.ProjectID != ac.ProjectID {
		writeAuthError(w, model.InsufficientPermission("traces:read"))
		return
	}

	writeJSON(w, http.StatusOK, trace)
}
