package model

import (
	"slices"
	"time"
)

// Credential represents a long-lived API key scoped to a user and,
// optionally, an organization and project. The raw secret is never stored;
// only a SHA-256 hash and a short prefix for identification are persisted.
type Credential struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	SecretHash  string     `json:"-" db:"secret_hash"`        // SHA-256 hash, never expose
	Prefix      string     `json:"prefix" db:"secret_prefix"` // Display prefix, safe to show
	UserID      string     `json:"user_id" db:"user_id"`
	OrgID       string     `json:"org_id,omitempty" db:"org_id"`
	ProjectID   string     `json:"project_id,omitempty" db:"project_id"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rate_limit" db:"rate_limit"` // requests per window
	AllowedIPs  []string   `json:"allowed_ips,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// Expired reports whether the credential's expiration has passed.
// Credentials without an expiry never expire.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// IPAllowed reports whether the given source IP may use this credential.
// An empty allow-list admits every source.
func (c *Credential) IPAllowed(ip string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	return slices.Contains(c.AllowedIPs, ip)
}

// HasAnyPermission reports whether the credential holds at least one of the
// given permissions (OR semantics).
func (c *Credential) HasAnyPermission(perms ...string) bool {
	for _, p := range perms {
		if slices.Contains(c.Permissions, p) {
			return true
		}
	}
	return false
}
