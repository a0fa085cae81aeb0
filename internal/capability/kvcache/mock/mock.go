// Package mock provides an in-memory test double for kvcache.KVCache.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/memorybear/engine/internal/capability/kvcache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// KVCache is an in-memory implementation of kvcache.KVCache for tests.
type KVCache struct {
	mu   sync.Mutex
	data map[string]entry
	Now  func() time.Time
}

// New constructs an empty KVCache.
func New() *KVCache {
	return &KVCache{data: make(map[string]entry), Now: time.Now}
}

func (c *KVCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(c.Now()) {
		delete(c.data, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *KVCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = c.Now().Add(ttl)
	}
	c.data[key] = entry{value: value, expiresAt: exp}
	return nil
}

func (c *KVCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// TryAcquireLock mirrors postgres.KVCache's atomic lock semantics over the
// same in-memory map: a key is acquired if absent or already expired.
func (c *KVCache) TryAcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[key]; ok && (e.expiresAt.IsZero() || e.expiresAt.After(c.Now())) {
		return false, nil
	}
	c.data[key] = entry{value: []byte{1}, expiresAt: c.Now().Add(ttl)}
	return true, nil
}

// ReleaseLock implements the same early-release semantics as
// postgres.KVCache.ReleaseLock.
func (c *KVCache) ReleaseLock(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

var _ kvcache.KVCache = (*KVCache)(nil)
