// Package cache provides a small TTL-bounded LRU for query embeddings.
//
// Embedding the same query twice costs a provider round trip; retrieval
// queries repeat often enough within a session that a short-lived cache pays
// for itself. Entries expire after a TTL so a re-deployed embedding model
// cannot serve stale vectors for long.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultCapacity bounds the cache when the caller passes a non-positive one.
const DefaultCapacity = 256

// DefaultTTL is the entry lifetime when the caller passes a non-positive one.
const DefaultTTL = 5 * time.Minute

type entry struct {
	key       string
	vec       []float32
	expiresAt time.Time
}

// EmbeddingCache is a fixed-capacity LRU with per-entry expiry. Safe for
// concurrent use.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List               // front = most recently used
	items    map[string]*list.Element // key -> element holding *entry

	now func() time.Time // test hook

	hits   uint64
	misses uint64
}

// New creates an [EmbeddingCache] with the given capacity and TTL.
func New(capacity int, ttl time.Duration) *EmbeddingCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EmbeddingCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns the cached vector for key, or (nil, false) on miss or expiry.
// A hit refreshes the entry's LRU position but not its TTL.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++

	vec := make([]float32, len(e.vec))
	copy(vec, e.vec)
	return vec, true
}

// Put stores vec under key, evicting the least recently used entry when the
// cache is full. The vector is copied; callers may reuse their slice.
func (c *EmbeddingCache) Put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]float32, len(vec))
	copy(stored, vec)

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.vec = stored
		e.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		c.removeLocked(c.order.Back())
	}
	el := c.order.PushFront(&entry{
		key:       key,
		vec:       stored,
		expiresAt: c.now().Add(c.ttl),
	})
	c.items[key] = el
}

// Len returns the number of live entries, expired ones included until they
// are touched or evicted.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns the hit and miss counters since creation.
func (c *EmbeddingCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *EmbeddingCache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}
