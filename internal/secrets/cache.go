package secrets

import (
	"sync"
	"time"
)

// cacheTTL is how long a decrypted plaintext map stays in memory before a
// read forces another decrypt pass (spec.md §4.3 "5-minute read cache").
const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	vars      map[string]string
	expiresAt time.Time
}

// readCache holds decrypted secret maps keyed by server id so repeated
// reads within cacheTTL skip AEAD decryption. Any Save or Delete for a
// server id invalidates its entry immediately.
type readCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newReadCache() *readCache {
	return &readCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *readCache) get(serverID string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[serverID]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.vars, true
}

func (c *readCache) put(serverID string, vars map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[serverID] = cacheEntry{vars: vars, expiresAt: c.now().Add(cacheTTL)}
}

func (c *readCache) invalidate(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, serverID)
}
