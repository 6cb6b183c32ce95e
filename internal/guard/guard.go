// Package guard evaluates declarative authorization requirements against a
// resolved AuthContext. Guards are data, not code: each endpoint declares a
// Requirement and one evaluation function applies it, so authorization
// rules are unit-testable in isolation from any HTTP machinery.
package guard

import (
	"slices"

	"github.com/scopeline/authd/internal/model"
)

// Requirement is an endpoint's declared authorization policy. The checks
// are orthogonal and stackable; zero-value fields are not enforced.
type Requirement struct {
	// Roles a session identity must hold one of. An endpoint declaring
	// Roles but no Permissions is closed to API keys.
	Roles []model.Role
	// Permissions an API-key identity must hold one of (OR semantics).
	// An endpoint declaring Permissions but no Roles is closed to
	// sessions.
	Permissions []string
	// RequireOrg denies identities without an organization scope.
	RequireOrg bool
	// RequireProject denies identities without a project scope.
	RequireProject bool
	// RequireTwoFactor denies sessions that have not completed 2FA.
	// It has no effect on API-key identities.
	RequireTwoFactor bool
}

// Check evaluates the requirement. It returns nil when access is allowed
// and the denial otherwise. Unauthenticated contexts are always denied.
func (q Requirement) Check(ac *model.AuthContext) *model.AuthError {
	if !ac.Authenticated() {
		return model.ErrMissingCredential
	}

	if q.RequireOrg && ac.OrgID == "" {
		return model.MissingScope("This operation requires an organization context. Select an organization first.")
	}
	if q.RequireProject && ac.ProjectID == "" {
		return model.MissingScope("This operation requires a project context. Select a project first.")
	}

	switch ac.Type {
	case model.AuthTypeSession:
		if q.RequireTwoFactor && !ac.Session.TwoFactor {
			return model.ErrTwoFactorRequired
		}
		if len(q.Roles) > 0 {
			if !slices.Contains(q.Roles, ac.Session.Role) {
				return model.InsufficientRole(q.Roles...)
			}
			return nil
		}
		if len(q.Permissions) > 0 {
			// Endpoint is API-key only.
			return model.InsufficientPermission(q.Permissions...)
		}
	case model.AuthTypeAPIKey:
		if len(q.Permissions) > 0 {
			if !ac.Credential.HasAnyPermission(q.Permissions...) {
				return model.InsufficientPermission(q.Permissions...)
			}
			return nil
		}
		if len(q.Roles) > 0 {
			// Endpoint is session only.
			return model.InsufficientRole(q.Roles...)
		}
	}
	return nil
}
