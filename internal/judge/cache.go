package judge

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a bounded LRU verdict cache with per-entry TTL. The clock is
// injected so expiry is deterministic under test. Writes for the same
// fingerprint are last-writer-wins; verdicts for one fingerprint are
// interchangeable.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	key       string
	verdict   Verdict
	expiresAt time.Time
}

// NewCache creates a verdict cache. maxSize <= 0 defaults to 256,
// ttl <= 0 defaults to 30 minutes, now == nil defaults to time.Now.
func NewCache(maxSize int, ttl time.Duration, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the cached verdict for key if present and unexpired.
func (c *Cache) Get(key string) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Verdict{}, false
	}
	ent := el.Value.(*cacheEntry)
	if !c.now().Before(ent.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return Verdict{}, false
	}
	c.order.MoveToFront(el)
	return ent.verdict, true
}

// Put stores a verdict under key, evicting the least recently used
// entry when full.
func (c *Cache) Put(key string, v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.verdict = v
		ent.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	el := c.order.PushFront(&cacheEntry{key: key, verdict: v, expiresAt: expires})
	c.entries[key] = el
}

// Len returns the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops expired entries. The daemon runs this on a schedule so a
// quiet machine does not pin stale verdicts in memory.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(*cacheEntry)
		if !now.Before(ent.expiresAt) {
			c.order.Remove(el)
			delete(c.entries, ent.key)
			removed++
		}
		el = prev
	}
	return removed
}
