package service

import (
	"errors"
	"testing"
	"time"

	"github.com/scopeline/authd/internal/model"
)

func TestSessionRoundTrip(t *testing.T) {
	v := NewSessionVerifier("signing-secret")
	tok, err := v.Issue(&model.Session{
		UserID: "user-42", OrgID: "org-9", Role: model.RoleOwner, TwoFactor: true,
	}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	sess, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sess.UserID != "user-42" || sess.OrgID != "org-9" {
		t.Errorf("identity round-trip: %+v", sess)
	}
	if sess.Role != model.RoleOwner {
		t.Errorf("got role %q", sess.Role)
	}
	if !sess.TwoFactor {
		t.Error("lost 2FA claim")
	}
}

func TestSessionExpired(t *testing.T) {
	v := NewSessionVerifier("signing-secret")
	tok, err := v.Issue(&model.Session{UserID: "u", OrgID: "o", Role: model.RoleMember}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestSessionWrongSecret(t *testing.T) {
	issuer := NewSessionVerifier("their-secret")
	tok, err := issuer.Issue(&model.Session{UserID: "u", OrgID: "o", Role: model.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	v := NewSessionVerifier("our-secret")
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestSessionMissingIdentity(t *testing.T) {
	v := NewSessionVerifier("signing-secret")
	tok, err := v.Issue(&model.Session{OrgID: "o", Role: model.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession for empty subject, got %v", err)
	}
}
