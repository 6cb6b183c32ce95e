package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/model"
)

// countingStore is a Lookup that counts hits and can be told to fail or
// hang, standing in for an out-of-process store.
type countingStore struct {
	mu    sync.Mutex
	creds map[string]*model.Credential
	reads int
	err   error
	delay time.Duration
}

func (s *countingStore) FindByHash(ctx context.Context, hash string) (*model.Credential, error) {
	s.mu.Lock()
	s.reads++
	err := s.err
	cred := s.creds[hash]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, config.ErrNotFound
	}
	return cred, nil
}

func (s *countingStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func newFixture() (*Credentials, *countingStore) {
	store := &countingStore{creds: map[string]*model.Credential{
		"hash-1": {ID: "cred-1", SecretHash: "hash-1", RateLimit: 60},
	}}
	return New(store, 128, time.Minute, time.Second), store
}

func TestGetReadThrough(t *testing.T) {
	c, store := newFixture()
	ctx := context.Background()

	got, err := c.Get(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "cred-1" {
		t.Errorf("got credential %q", got.ID)
	}
	if store.readCount() != 1 {
		t.Errorf("store reads: got %d, want 1", store.readCount())
	}

	// Second read is served from cache.
	if _, err := c.Get(ctx, "hash-1"); err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if store.readCount() != 1 {
		t.Errorf("store reads after cached get: got %d, want 1", store.readCount())
	}
}

func TestGetMissNotCached(t *testing.T) {
	c, store := newFixture()
	ctx := context.Background()

	if _, err := c.Get(ctx, "absent"); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Negative results are not cached: the next read goes to the store
	// again, so a credential created after a miss is visible immediately.
	if _, err := c.Get(ctx, "absent"); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.readCount() != 2 {
		t.Errorf("store reads: got %d, want 2 (misses must not be cached)", store.readCount())
	}

	store.mu.Lock()
	store.creds["absent"] = &model.Credential{ID: "cred-2", SecretHash: "absent"}
	store.mu.Unlock()

	got, err := c.Get(ctx, "absent")
	if err != nil {
		t.Fatalf("Get after create: %v", err)
	}
	if got.ID != "cred-2" {
		t.Errorf("got credential %q", got.ID)
	}
}

func TestInvalidateEvictsSynchronously(t *testing.T) {
	c, store := newFixture()
	ctx := context.Background()

	if _, err := c.Get(ctx, "hash-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Simulate a delete acknowledged only after invalidation.
	store.mu.Lock()
	delete(store.creds, "hash-1")
	store.mu.Unlock()
	c.Invalidate("hash-1")

	if _, err := c.Get(ctx, "hash-1"); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("stale cache honored a deleted credential: %v", err)
	}
}

func TestGetStoreErrorPropagates(t *testing.T) {
	c, store := newFixture()
	boom := errors.New("store down")
	store.mu.Lock()
	store.err = boom
	store.creds = map[string]*model.Credential{}
	store.mu.Unlock()

	if _, err := c.Get(context.Background(), "hash-1"); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestGetTimesOutSlowStore(t *testing.T) {
	store := &countingStore{
		creds: map[string]*model.Credential{"hash-1": {ID: "cred-1"}},
		delay: 5 * time.Second,
	}
	c := New(store, 8, time.Minute, 25*time.Millisecond)

	start := time.Now()
	_, err := c.Get(context.Background(), "hash-1")
	if err == nil {
		t.Fatal("expected timeout error from slow store")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lookup blocked %v, should be bounded by the timeout", elapsed)
	}
}

func TestEntriesExpire(t *testing.T) {
	store := &countingStore{creds: map[string]*model.Credential{
		"hash-1": {ID: "cred-1"},
	}}
	c := New(store, 8, 30*time.Millisecond, time.Second)
	ctx := context.Background()

	if _, err := c.Get(ctx, "hash-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	if _, err := c.Get(ctx, "hash-1"); err != nil {
		t.Fatalf("Get after TTL: %v", err)
	}
	if store.readCount() != 2 {
		t.Errorf("store reads: got %d, want 2 (entry should have expired)", store.readCount())
	}
}
