// ABOUTME: Thread-safe TTL cache of short-lived keys with optional values.
// ABOUTME: Backs single-use OAuth state and client request idempotency keys.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	value     string
	timestamp time.Time
	element   *list.Element
}

// Cache is a TTL-based, size-limited key store. Entries are evicted oldest
// first once maxSize is reached; a background goroutine drops expired ones.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Claim atomically records key. It returns false when key is already held and
// unexpired, which callers treat as a duplicate.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.liveLocked(key); ok {
		return false
	}
	c.putLocked(key, "")
	return true
}

// Put stores value under key, replacing any previous value and refreshing its TTL.
func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value)
}

// Take removes key and returns its value. A key can be taken at most once.
func (c *Cache) Take(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveLocked(key)
	if !ok {
		return "", false
	}
	c.removeLocked(key, entry)
	return entry.value, true
}

// Release drops key so that it can be claimed again.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.removeLocked(key, entry)
	}
}

// Len returns the number of stored entries, expired ones included until cleanup runs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) liveLocked(key string) (*cacheEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.timestamp) >= c.ttl {
		c.removeLocked(key, entry)
		return nil, false
	}
	return entry, true
}

func (c *Cache) putLocked(key, value string) {
	now := c.now()

	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.removeLocked(oldest, c.entries[oldest])
		}
	}

	c.entries[key] = &cacheEntry{
		value:     value,
		timestamp: now,
		element:   c.order.PushBack(key),
	}
}

func (c *Cache) removeLocked(key string, entry *cacheEntry) {
	if entry != nil {
		c.order.Remove(entry.element)
	}
	delete(c.entries, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes every expired entry.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.removeLocked(key, entry)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
