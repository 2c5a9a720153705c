// Package mediacache holds generated audio payloads under unguessable
// identifiers for a bounded time window, so the messaging channel can fetch
// them back by URL.
package mediacache

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const defaultTTL = 5 * time.Minute

type entry struct {
	data        []byte
	contentType string
	expiresAt   time.Time
}

// Cache is a concurrent in-memory store with lazy expiry: entries are
// checked at read time and swept opportunistically on insert. There is no
// background reaper.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

type Config struct {
	TTL time.Duration
	Now func() time.Time // injectable clock for tests
}

func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}
}

// Put stores data under a fresh random identifier and returns it. The
// identifier doubles as the authorization token embedded in the delivery
// URL, so it is drawn from crypto/rand.
func (c *Cache) Put(data []byte, contentType string) string {
	id := newID()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	c.entries[id] = entry{
		data:        data,
		contentType: contentType,
		expiresAt:   c.now().Add(c.ttl),
	}
	return id
}

// Get returns the stored bytes and content type for id. The comma-ok result
// is false for unknown and expired identifiers; expired entries are evicted
// on the spot. Entries are not single-use: the channel may re-fetch within
// the TTL window.
func (c *Cache) Get(id string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, "", false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, id)
		return nil, "", false
	}
	return e.data, e.contentType, true
}

// Len reports the number of entries, expired ones included until a sweep
// or read evicts them.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweepLocked removes expired entries. Keys are snapshotted before any
// delete so the map is never mutated mid-iteration.
func (c *Cache) sweepLocked() {
	now := c.now()
	var expired []string
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(c.entries, id)
	}
}

func newID() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
