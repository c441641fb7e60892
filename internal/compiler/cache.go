package compiler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/mdxflow/internal/ir"
)

// Cache holds compiled templates keyed by fingerprint, with LRU eviction
// and TTL. Entries are sized by the length of their source.
type Cache struct {
	entries     map[string]*cacheEntry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	// LRU implementation
	head *cacheEntry
	tail *cacheEntry
	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key        string
	template   *ir.Template
	createdAt  time.Time
	accessedAt time.Time
	size       int64
	prev       *cacheEntry
	next       *cacheEntry
}

// NewCache creates a template cache holding up to maxSize bytes of source.
func NewCache(maxSize int64, ttl time.Duration) *Cache {
	cache := &Cache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}

	// Initialize LRU doubly-linked list with dummy head and tail
	cache.head = &cacheEntry{}
	cache.tail = &cacheEntry{}
	cache.head.next = cache.tail
	cache.tail.prev = cache.head

	return cache
}

// Get returns the template stored under fingerprint.
func (c *Cache) Get(fingerprint string) (*ir.Template, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[fingerprint]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.remove(entry)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.moveToFront(entry)
	entry.accessedAt = time.Now()
	atomic.AddInt64(&c.hits, 1)
	return entry.template, true
}

// Set stores tpl, evicting least recently used entries as needed.
func (c *Cache) Set(tpl *ir.Template, sourceSize int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	size := int64(sourceSize)
	if existing, exists := c.entries[tpl.Fingerprint]; exists {
		c.currentSize += size - existing.size
		existing.template = tpl
		existing.size = size
		existing.accessedAt = time.Now()
		c.moveToFront(existing)
		return
	}

	c.evictIfNeeded(size)

	entry := &cacheEntry{
		key:        tpl.Fingerprint,
		template:   tpl,
		createdAt:  time.Now(),
		accessedAt: time.Now(),
		size:       size,
	}
	c.entries[entry.key] = entry
	c.currentSize += size
	c.addToFront(entry)
}

func (c *Cache) evictIfNeeded(newSize int64) {
	for c.currentSize+newSize > c.maxSize && c.tail.prev != c.head {
		c.remove(c.tail.prev)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// Clear drops every entry and resets statistics.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.currentSize = 0
	c.head.next = c.tail
	c.tail.prev = c.head

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// GetHits returns the number of cache hits
func (c *Cache) GetHits() int64 {
	return atomic.LoadInt64(&c.hits)
}

// GetMisses returns the number of cache misses
func (c *Cache) GetMisses() int64 {
	return atomic.LoadInt64(&c.misses)
}

// GetEvictions returns the number of cache evictions
func (c *Cache) GetEvictions() int64 {
	return atomic.LoadInt64(&c.evictions)
}

// GetHitRate returns the cache hit rate as a percentage (0.0 to 1.0)
func (c *Cache) GetHitRate() float64 {
	hits := atomic.LoadInt64(&c.hits)
	total := hits + atomic.LoadInt64(&c.misses)
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

func (c *Cache) remove(entry *cacheEntry) {
	c.removeFromList(entry)
	delete(c.entries, entry.key)
	c.currentSize -= entry.size
}

// LRU doubly-linked list operations
func (c *Cache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *Cache) removeFromList(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *Cache) moveToFront(entry *cacheEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
