package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Code is a stable machine-readable string; Status mirrors the HTTP status.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Status  int                    `json:"status"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// LoginDecision is returned by the login-attempt endpoints consumed by the
// identity provider around its own password verification.
type LoginDecision struct {
	Allowed           bool `json:"allowed"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
	Failures          int  `json:"failures,omitempty"`
}

// HandshakeResult is sent as the first frame on an authenticated WebSocket
// connection, describing the identity resolved at upgrade time.
type HandshakeResult struct {
	Authenticated bool     `json:"authenticated"`
	AuthType      AuthType `json:"auth_type"`
	UserID        string   `json:"user_id,omitempty"`
	OrgID         string   `json:"org_id,omitempty"`
	ProjectID     string   `json:"project_id,omitempty"`
	Error         string   `json:"error,omitempty"`
}
