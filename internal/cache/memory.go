package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryCache is the L1 tier: an in-memory LRU bounded by item count and
// bytes, with entries expiring after a TTL.
type MemoryCache struct {
	maxItems int
	capacity int64 // Maximum size in bytes, 0 for unbounded
	ttl      time.Duration
	size     int64

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	mu    sync.Mutex
	stats Stats

	now func() time.Time
}

type memoryEntry struct {
	key     string
	value   []byte
	expires time.Time // zero when the entry never expires
	hits    int64
}

// NewMemoryCache creates a memory cache. maxItems or capacity of 0 leave
// that dimension unbounded.
func NewMemoryCache(maxItems int, capacity int64, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		maxItems: maxItems,
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats:    Stats{Level: LevelMemory, Capacity: capacity},
		now:      time.Now,
	}
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	now := c.now()
	entry := elem.Value.(*memoryEntry)
	if !entry.expires.IsZero() && !now.Before(entry.expires) {
		c.removeElement(elem)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}

	// Move to front (most recently used)
	c.eviction.MoveToFront(elem)
	entry.hits++

	c.stats.Hits++
	c.stats.LastAccess = now
	return entry.value, true
}

// Put stores a value in the cache.
func (c *MemoryCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	valueSize := int64(len(value))
	if c.capacity > 0 && valueSize > c.capacity {
		return ErrItemTooLarge
	}

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	// Evict items if necessary
	for c.eviction.Len() > 0 &&
		((c.capacity > 0 && c.size+valueSize > c.capacity) ||
			(c.maxItems > 0 && c.eviction.Len() >= c.maxItems)) {
		c.evictOldest()
	}

	now := c.now()
	entry := &memoryEntry{key: key, value: value}
	if c.ttl > 0 {
		entry.expires = now.Add(c.ttl)
	}
	c.items[key] = c.eviction.PushFront(entry)
	c.size += valueSize
	return nil
}

// Delete removes an entry from the cache.
func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
	return nil
}

// Len returns the number of cached entries, expired ones included until
// they are pruned.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	stats.ItemCount = int64(len(c.items))
	stats.updateHitRate()
	return stats
}

// Prune removes expired entries and returns how many were dropped.
func (c *MemoryCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pruned := 0

	// Start from the back (least recently used)
	elem := c.eviction.Back()
	for elem != nil {
		prev := elem.Prev()
		entry := elem.Value.(*memoryEntry)
		if !entry.expires.IsZero() && !now.Before(entry.expires) {
			c.removeElement(elem)
			pruned++
		}
		elem = prev
	}

	c.stats.Expired += int64(pruned)
	return pruned
}

// Close implements Store.
func (c *MemoryCache) Close() error { return c.Clear() }

// evictOldest removes the least recently used item (must be called with lock held).
func (c *MemoryCache) evictOldest() {
	if elem := c.eviction.Back(); elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
		c.stats.LastEvict = c.now()
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(c.items, entry.key)
	c.size -= int64(len(entry.value))
}
