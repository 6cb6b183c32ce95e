package handler

import (
	"encoding/json"
	"net/http"

	"github.com/scopeline/authd/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, status int, code, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Status:  status,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeAuthError writes an access-control denial in the standard envelope.
func writeAuthError(w http.ResponseWriter, authErr *model.AuthError) {
	writeError(w, authErr.Status, authErr.Code, authErr.Message)
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
