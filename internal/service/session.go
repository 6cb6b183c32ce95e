package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scopeline/authd/internal/model"
)

// ErrInvalidSession is returned when a presented session token cannot be
// verified. The resolver treats it the same as no session at all.
var ErrInvalidSession = errors.New("invalid session")

// SessionVerifier validates the signed session tokens the upstream identity
// provider issues to browsers. This core never creates sessions; it only
// verifies the HMAC signature and unpacks the identity bundle.
type SessionVerifier struct {
	secret []byte
}

// NewSessionVerifier creates a verifier sharing the identity provider's
// signing secret.
func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret)}
}

type sessionClaims struct {
	OrgID     string `json:"org"`
	Role      string `json:"role"`
	TwoFactor bool   `json:"mfa"`
	jwt.RegisteredClaims
}

// Verify checks a session token's signature and expiry and returns the
// identity it carries. Any failure yields ErrInvalidSession; the caller
// must not fall back to a weaker interpretation of the token.
func (v *SessionVerifier) Verify(tokenStr string) (*model.Session, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	if claims.Subject == "" || claims.OrgID == "" {
		return nil, ErrInvalidSession
	}
	return &model.Session{
		UserID:    claims.Subject,
		OrgID:     claims.OrgID,
		Role:      model.Role(claims.Role),
		TwoFactor: claims.TwoFactor,
	}, nil
}

// Issue signs a session token. Issuance belongs to the identity provider;
// this exists for tests and local development where no provider runs.
func (v *SessionVerifier) Issue(sess *model.Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		OrgID:     sess.OrgID,
		Role:      string(sess.Role),
		TwoFactor: sess.TwoFactor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "scopeline-id",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
