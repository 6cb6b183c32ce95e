// Package secret generates, validates, and hashes API key secrets.
//
// A secret looks like sl_live_<48 hex chars> (or sl_test_ for test-mode
// keys): a literal product prefix, the key kind, and 24 bytes of entropy
// from crypto/rand. Only the SHA-256 hash of a secret is ever persisted;
// the raw secret exists transiently at creation time and is shown to the
// caller exactly once.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Kind distinguishes live keys from test-mode keys. The kind is embedded in
// the secret's prefix and is safe to display.
type Kind string

const (
	KindLive Kind = "live"
	KindTest Kind = "test"
)

const (
	entropyBytes = 24 // 192 bits

	// prefixDisplayLen is how much of the secret is kept for display:
	// "sl_live_" plus the first 4 hex characters.
	prefixDisplayLen = 12
)

// keyPattern matches well-formed secrets. The format check runs before any
// hashing or lookup so garbage input is rejected cheaply.
var keyPattern = regexp.MustCompile(`^sl_(live|test)_[a-f0-9]{48}$`)

// Generated is the output of Generate. Secret is returned to the caller
// once and never stored; Hash is the lookup key; Prefix is the display
// fragment persisted alongside the hash.
type Generated struct {
	Secret string
	Hash   string
	Prefix string
}

// Generate mints a new secret of the given kind.
func Generate(kind Kind) (Generated, error) {
	if kind != KindLive && kind != KindTest {
		return Generated{}, fmt.Errorf("unknown key kind %q", kind)
	}
	raw := make([]byte, entropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return Generated{}, fmt.Errorf("generate key entropy: %w", err)
	}
	s := fmt.Sprintf("sl_%s_%s", kind, hex.EncodeToString(raw))
	return Generated{
		Secret: s,
		Hash:   Hash(s),
		Prefix: s[:prefixDisplayLen],
	}, nil
}

// ValidFormat reports whether s is a well-formed secret for either kind.
func ValidFormat(s string) bool {
	return keyPattern.MatchString(s)
}

// Hash returns the hex-encoded SHA-256 hash of a raw secret.
func Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// ConstantTimeEquals compares two raw secrets without leaking where they
// first differ. Unequal lengths short-circuit to false; length is not
// secret. Hash lookups don't need this (they are exact-match keyed reads),
// but anywhere a shared secret is compared directly does.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
