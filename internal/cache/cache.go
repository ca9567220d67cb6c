// Package cache provides the in-memory TTL caches shared across analysis
// requests.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Entry is a cached value with the time it was stored and its lifetime.
type Entry[V any] struct {
	Key      string
	Value    V
	StoredAt time.Time
	TTL      time.Duration
}

func (e Entry[V]) expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.StoredAt.Add(e.TTL))
}

// TTL is a concurrency-safe map of entries that expire after a fixed
// lifetime. Expired entries are dropped lazily on read and by Sweep.
type TTL[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
	ttl     time.Duration

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a cache whose entries live for ttl. A non-positive ttl keeps
// entries until Purge.
func New[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		entries: make(map[string]Entry[V]),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Get returns the value for key if present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}

	if e.expired(c.nowFunc()) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.StoredAt.Equal(e.StoredAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key, replacing any previous entry.
func (c *TTL[V]) Set(key string, value V) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = Entry[V]{
		Key:      key,
		Value:    value,
		StoredAt: c.nowFunc(),
		TTL:      c.ttl,
	}
	c.mu.Unlock()
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *TTL[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep drops every expired entry and returns how many were removed.
func (c *TTL[V]) Sweep() int {
	if c == nil {
		return 0
	}
	now := c.nowFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Purge removes every entry.
func (c *TTL[V]) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]Entry[V])
	c.mu.Unlock()
}

// Key returns a SHA-256 hex digest of parts joined by NUL bytes.
func Key(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
