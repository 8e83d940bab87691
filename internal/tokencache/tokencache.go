// Package tokencache caches OAuth-style bearer tokens per credential set.
//
// DESIGN: The cached token is served while now < expiry - safety margin
// (60s, to avoid races against the final instant of validity). A single
// mutex around the refresh path guarantees one in-flight refresh: concurrent
// callers arriving near expiry block on the lock, re-check the cached value,
// and reuse the token fetched by the winner instead of stampeding the
// authorization server.
package tokencache

import (
	"context"
	"sync"
	"time"
)

// DefaultSafetyMargin is subtracted from the token expiry when deciding
// whether a refresh is due.
const DefaultSafetyMargin = 60 * time.Second

// RefreshFunc performs the synchronous token refresh (e.g. a
// client-credentials grant) and returns the new token with its lifetime.
type RefreshFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// Cache holds one bearer token and refreshes it on demand. Safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	token   string
	expiry  time.Time
	margin  time.Duration
	refresh RefreshFunc

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates a cache backed by the given refresh function.
func New(refresh RefreshFunc) *Cache {
	return &Cache{
		margin:  DefaultSafetyMargin,
		refresh: refresh,
		now:     time.Now,
	}
}

// Token returns the cached token, refreshing it first when it is within the
// safety margin of expiry or has been invalidated.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry.Add(-c.margin)) {
		return c.token, nil
	}

	token, expiresIn, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiry = c.now().Add(expiresIn)
	return token, nil
}

// Invalidate drops the cached token. Called when a vendor rejects it with a
// 401 before its computed expiry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiry = time.Time{}
}

// Keyed holds one Cache per credential fingerprint, so distinct caller
// credential sets never share a minted bearer.
type Keyed struct {
	mu     sync.Mutex
	caches map[string]*Cache
}

// NewKeyed creates an empty keyed cache.
func NewKeyed() *Keyed {
	return &Keyed{caches: make(map[string]*Cache)}
}

// For returns the cache for key, creating it from refresh on first use. The
// refresh function must mint tokens for the credential set the key was
// derived from.
func (k *Keyed) For(key string, refresh RefreshFunc) *Cache {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.caches[key]
	if !ok {
		c = New(refresh)
		k.caches[key] = c
	}
	return c
}

// InvalidateAll drops every cached token. Used as the auth-failure hook
// when the rejected request cannot be traced back to one key.
func (k *Keyed) InvalidateAll() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range k.caches {
		c.Invalidate()
	}
}
