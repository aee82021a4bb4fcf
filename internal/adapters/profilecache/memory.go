package profilecache

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/internal/core"
)

// MemoryCache is a process-local ProfileCache for tests and runs that opt
// out of on-disk caching.
type MemoryCache struct {
	mu    sync.RWMutex
	snaps map[string]core.ProfileSnapshot
}

var _ core.ProfileCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{snaps: make(map[string]core.ProfileSnapshot)}
}

// Get returns the latest snapshot for a user.
func (c *MemoryCache) Get(_ context.Context, userID string) (*core.ProfileSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.snaps[userID]
	if !ok {
		return nil, core.ErrNotFound("profile", userID)
	}
	out := snap
	return &out, nil
}

// Put publishes a snapshot, replacing any previous one for the user.
func (c *MemoryCache) Put(_ context.Context, snap core.ProfileSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.Profile.UserID] = snap
	return nil
}

// Close is a no-op for the in-memory cache.
func (c *MemoryCache) Close() error {
	return nil
}
