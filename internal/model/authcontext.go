package model

// AuthType identifies which identity path authenticated a request.
type AuthType string

const (
	AuthTypeAPIKey  AuthType = "api_key"
	AuthTypeSession AuthType = "session"
	AuthTypeNone    AuthType = "none"
)

// AuthContext is the resolved identity for a request. It is constructed once
// by the resolver and read-only for the remainder of the request's lifetime.
// Exactly one of Credential or Session is set, per Type.
type AuthContext struct {
	Type       AuthType
	Credential *Credential // set when Type == AuthTypeAPIKey
	Session    *Session    // set when Type == AuthTypeSession

	// Resolved scope for the request.
	OrgID     string
	ProjectID string
}

// Anonymous is the AuthContext for unauthenticated requests.
var Anonymous = &AuthContext{Type: AuthTypeNone}

// Authenticated reports whether the context carries a verified identity.
func (a *AuthContext) Authenticated() bool {
	return a != nil && a.Type != AuthTypeNone
}

// UserID returns the acting user, regardless of identity path. API-key
// contexts report the credential's owning user.
func (a *AuthContext) UserID() string {
	switch a.Type {
	case AuthTypeAPIKey:
		return a.Credential.UserID
	case AuthTypeSession:
		return a.Session.UserID
	}
	return ""
}
