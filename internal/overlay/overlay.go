// Package overlay keeps short-lived "just triggered" markers per workflow.
// Entries expire lazily on read and are swept once per refresh cycle.
package overlay

import (
	"sync"
	"time"

	"github.com/fentz26/shipctl/internal/clock"
)

// Entry marks a workflow as recently triggered.
type Entry struct {
	WorkflowRef string    `json:"workflow"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Cache is a TTL map keyed by logical workflow name.
type Cache struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates a cache whose entries live for ttl.
func New(ttl time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]Entry),
	}
}

// Put inserts or replaces the entry of ref, starting a fresh TTL.
func (c *Cache) Put(ref string) Entry {
	now := c.clock.Now()
	e := Entry{WorkflowRef: ref, CreatedAt: now, ExpiresAt: now.Add(c.ttl)}

	c.mu.Lock()
	c.entries[ref] = e
	c.mu.Unlock()
	return e
}

// Get returns the live entry of ref. An expired entry is removed.
func (c *Cache) Get(ref string) (Entry, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[ref]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	if !now.Before(e.ExpiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[ref]; ok && cur == e {
			delete(c.entries, ref)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

// Delete removes the entry of ref.
func (c *Cache) Delete(ref string) {
	c.mu.Lock()
	delete(c.entries, ref)
	c.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for ref, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, ref)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}
