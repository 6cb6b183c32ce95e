// Package cache implements the read-through credential cache that sits in
// front of the credential store on the request hot path.
//
// Only positive lookups are cached. Negative caching would short-circuit
// repeated invalid-key probing, but it opens a staleness window where a
// credential created moments after a miss appears absent until TTL expiry;
// probing is already cheap to reject (format check, then one indexed read),
// so the entry is not worth that window.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
)

// Lookup is the slice of the credential store the cache needs.
type Lookup interface {
	FindByHash(ctx context.Context, hash string) (*model.Credential, error)
}

// Credentials is a TTL cache keyed by secret hash. Every mutation to the
// underlying credential must call Invalidate for the record's hash before
// the mutation is acknowledged; the TTL only bounds staleness for readers
// that raced an eviction, it is not the consistency mechanism.
type Credentials struct {
	store   Lookup
	lru     *expirable.LRU[string, *model.Credential]
	timeout time.Duration
}

// New creates a credential cache holding up to size entries for at most ttl.
// timeout bounds each fallthrough read of the store; a slow store must not
// stall every request indefinitely, and a timed-out read denies (the caller
// sees an error, never a silent bypass).
func New(store Lookup, size int, ttl, timeout time.Duration) *Credentials {
	return &Credentials{
		store:   store,
		lru:     expirable.NewLRU[string, *model.Credential](size, nil, ttl),
		timeout: timeout,
	}
}

// Get returns the credential for a secret hash, reading through to the
// store on miss and populating the cache on a hit there. Cached values are
// shared between readers and must be treated as read-only.
func (c *Credentials) Get(ctx context.Context, hash string) (*model.Credential, error) {
	if cred, ok := c.lru.Get(hash); ok {
		return cred, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cred, err := c.store.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, config.ErrNotFound
		}
		return nil, err
	}
	c.lru.Add(hash, cred)
	return cred, nil
}

// Invalidate evicts the entry for a secret hash. It is synchronous: once it
// returns, no reader can observe the pre-mutation value from this cache.
func (c *Credentials) Invalidate(hash string) {
	c.lru.Remove(hash)
}

// Len returns the number of live entries, for introspection and tests.
func (c *Credentials) Len() int {
	return c.lru.Len()
}
