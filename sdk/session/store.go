// Package session persists the PKCE verifier and the issued tokens of an Alien SSO client.
//
// Two stores back a Session: an ephemeral one holding the one-shot code verifier for the
// lifetime of a login attempt, and a durable one holding tokens across process restarts.
// All keys are namespaced with Prefix so a shared backend never collides with host data.
package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is a minimal string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps values in process memory. With a positive TTL entries expire,
// which bounds how long an abandoned login's verifier survives.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates a MemoryStore. ttl <= 0 keeps entries until deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl
	}
	return &MemoryStore{cache: gocache.New(expiration, cleanup)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.cache.SetDefault(key, value)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
