package model

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthError is a terminal authentication or authorization failure. Code is a
// stable machine-readable string SDK clients can branch on; Status is the
// HTTP status the error maps to.
type AuthError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Authentication failures (401).
var (
	ErrMissingCredential = &AuthError{
		Code: "MISSING_CREDENTIAL", Status: http.StatusUnauthorized,
		Message: "Authentication required. Provide an API key or a session.",
	}
	ErrMalformedCredential = &AuthError{
		Code: "MALFORMED_CREDENTIAL", Status: http.StatusUnauthorized,
		Message: "API key is not in a recognized format.",
	}
	ErrUnknownCredential = &AuthError{
		Code: "UNKNOWN_CREDENTIAL", Status: http.StatusUnauthorized,
		Message: "API key is unknown or has been revoked.",
	}
	ErrExpiredCredential = &AuthError{
		Code: "EXPIRED_CREDENTIAL", Status: http.StatusUnauthorized,
		Message: "API key has expired.",
	}
)

// Authorization failures (403).
var (
	ErrIPNotAllowed = &AuthError{
		Code: "IP_NOT_ALLOWED", Status: http.StatusForbidden,
		Message: "Request origin is not in the credential's IP allow-list.",
	}
	ErrTwoFactorRequired = &AuthError{
		Code: "2FA_REQUIRED", Status: http.StatusForbidden,
		Message: "Two-factor authentication is required for this operation.",
	}
)

// ErrProjectNotFound hides cross-tenant project existence: a project that
// belongs to another organization is reported the same as one that does
// not exist.
var ErrProjectNotFound = &AuthError{
	Code: "PROJECT_NOT_FOUND", Status: http.StatusNotFound,
	Message: "Project not found.",
}

// ErrInternalLookup denies access when credential resolution itself failed
// (store unreachable, lookup timeout). It must never be confused with
// UNKNOWN_CREDENTIAL in logs, but the caller is denied either way.
var ErrInternalLookup = &AuthError{
	Code: "INTERNAL_LOOKUP_FAILURE", Status: http.StatusUnauthorized,
	Message: "Credential could not be verified.",
}

// InsufficientRole builds a 403 naming the roles the endpoint accepts.
func InsufficientRole(required ...Role) *AuthError {
	names := make([]string, len(required))
	for i, r := range required {
		names[i] = string(r)
	}
	return &AuthError{
		Code: "INSUFFICIENT_ROLE", Status: http.StatusForbidden,
		Message: fmt.Sprintf("This operation requires one of the roles: %s.", strings.Join(names, ", ")),
	}
}

// InsufficientPermission builds a 403 naming the permissions the endpoint
// accepts (any one suffices).
func InsufficientPermission(required ...string) *AuthError {
	return &AuthError{
		Code: "INSUFFICIENT_PERMISSION", Status: http.StatusForbidden,
		Message: fmt.Sprintf("This operation requires one of the permissions: %s.", strings.Join(required, ", ")),
	}
}

// MissingScope builds a 403 with a remediation hint for endpoints that need
// an organization or project context.
func MissingScope(hint string) *AuthError {
	return &AuthError{
		Code: "MISSING_SCOPE", Status: http.StatusForbidden,
		Message: hint,
	}
}

// RateLimitExceeded builds a 429 with a retry hint in seconds.
func RateLimitExceeded(retryAfterSeconds int) *AuthError {
	return &AuthError{
		Code: "RATE_LIMIT_EXCEEDED", Status: http.StatusTooManyRequests,
		Message: fmt.Sprintf("Rate limit exceeded. Retry in %d seconds.", retryAfterSeconds),
	}
}

// AccountLocked builds a 429 for a login identifier under brute-force
// lockout, with the estimated time until the lock clears.
func AccountLocked(retryAfterSeconds int) *AuthError {
	return &AuthError{
		Code: "ACCOUNT_LOCKED", Status: http.StatusTooManyRequests,
		Message: fmt.Sprintf("Too many failed login attempts. Retry in %d seconds.", retryAfterSeconds),
	}
}
