package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/scopeline/authd/internal/config"
)

func newTestLockout(t *testing.T, threshold int) (*Lockout, *config.Store) {
	t.Helper()
	store, err := config.NewStore("sqlite", "")
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLockout(store, nil, logger, threshold, 15*time.Minute, 15*time.Minute), store
}

func TestLockoutAfterThreshold(t *testing.T) {
	l, _ := newTestLockout(t, 5)
	ctx := context.Background()
	const email = "victim@example.com"

	for i := 1; i <= 5; i++ {
		d, err := l.CheckAllowed(ctx, email)
		if err != nil {
			t.Fatalf("CheckAllowed before failure %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d denied before threshold", i)
		}
		n, err := l.RecordFailure(ctx, email)
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
		if n != i {
			t.Errorf("failure %d: got count %d", i, n)
		}
	}

	// The 6th attempt is denied even if the password would be correct.
	d, err := l.CheckAllowed(ctx, email)
	if err != nil {
		t.Fatalf("CheckAllowed after threshold: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected lockout after 5 failures")
	}
	if d.RetryAfterSeconds <= 0 {
		t.Errorf("expected positive retry-after, got %d", d.RetryAfterSeconds)
	}
}

func TestClearResetsCounter(t *testing.T) {
	l, _ := newTestLockout(t, 5)
	ctx := context.Background()
	const email = "user@example.com"

	for i := 0; i < 3; i++ {
		if _, err := l.RecordFailure(ctx, email); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := l.Clear(ctx, email); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	n, err := l.RecordFailure(ctx, email)
	if err != nil {
		t.Fatalf("RecordFailure after clear: %v", err)
	}
	if n != 1 {
		t.Errorf("counter after clear: got %d, want 1", n)
	}
}

func TestIdentifierNormalization(t *testing.T) {
	l, _ := newTestLockout(t, 2)
	ctx := context.Background()

	if _, err := l.RecordFailure(ctx, "  User@Example.COM "); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if _, err := l.RecordFailure(ctx, "user@example.com"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	d, err := l.CheckAllowed(ctx, "USER@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("CheckAllowed: %v", err)
	}
	if d.Allowed {
		t.Fatal("differently-cased identifiers must share one attempt record")
	}
}

func TestUnknownIdentifierAllowed(t *testing.T) {
	l, _ := newTestLockout(t, 5)
	d, err := l.CheckAllowed(context.Background(), "fresh@example.com")
	if err != nil {
		t.Fatalf("CheckAllowed: %v", err)
	}
	if !d.Allowed {
		t.Fatal("identifier with no record must be allowed")
	}
}

func TestMaskIdentifier(t *testing.T) {
	cases := []struct{ in, want string }{
		{"alice@example.com", "al***@example.com"},
		{"Bob@Example.com", "bo***@example.com"},
		{"ab@x.io", "ab***@x.io"},
		{"a@x.io", "a***@x.io"},
		{"no-at-sign", "no***"},
		{"x", "***"},
	}
	for _, c := range cases {
		if got := MaskIdentifier(c.in); got != c.want {
			t.Errorf("MaskIdentifier(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
