package model

// Role is a user's role within their active organization. Roles are assigned
// by the identity provider; this core only evaluates them.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Session is the identity bundle resolved from the upstream identity
// provider's session token. This core never issues or mutates sessions.
type Session struct {
	UserID    string `json:"user_id"`
	OrgID     string `json:"org_id"`
	Role      Role   `json:"role"`
	TwoFactor bool   `json:"two_factor"` // whether the session completed 2FA
}
