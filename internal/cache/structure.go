package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config configures a StructureCache.
type Config struct {
	// MaxSize is the LRU capacity in entries.
	MaxSize int

	// TTL is how long an entry stays valid after insertion.
	TTL time.Duration

	// MaxEntrySize is the largest value (in bytes) that will be stored;
	// oversized values are logged and discarded.
	MaxEntrySize int

	// OnLookup, when set, is invoked once per GetOrExtract with the
	// hit/miss outcome.
	OnLookup func(hit bool)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:      100,
		TTL:          5 * time.Minute,
		MaxEntrySize: 64 * 1024,
	}
}

// Stats is a point-in-time view of the cache for observability.
type Stats struct {
	Size       int           `json:"size"`
	MaxSize    int           `json:"max_size"`
	TotalBytes int           `json:"total_bytes"`
	OldestAge  time.Duration `json:"oldest_age"`
	NewestAge  time.Duration `json:"newest_age"`
}

// StructureCache is an LRU+TTL cache of page-structure summaries keyed by
// URL. O(1) operations via a doubly linked list over a map.
type StructureCache struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger

	items      map[string]*node
	head       *node // most recently used
	tail       *node // least recently used
	totalBytes int

	group singleflight.Group
}

type node struct {
	key        string
	value      string
	insertedAt time.Time
	accessedAt time.Time
	prev       *node
	next       *node
}

// New creates a structure cache.
func New(config Config, logger *zap.Logger) *StructureCache {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.MaxEntrySize <= 0 {
		config.MaxEntrySize = DefaultConfig().MaxEntrySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructureCache{
		config: config,
		logger: logger.With(zap.String("component", "structure_cache")),
		items:  make(map[string]*node),
	}
}

// Set inserts or updates the value for key and marks it most recently used.
// Values over MaxEntrySize are discarded, never stored.
func (c *StructureCache) Set(key, value string) {
	if len(value) > c.config.MaxEntrySize {
		c.logger.Warn("structure summary exceeds max entry size, not cached",
			zap.String("url", key),
			zap.Int("size", len(value)),
			zap.Int("max", c.config.MaxEntrySize))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if n, ok := c.items[key]; ok {
		c.totalBytes += len(value) - len(n.value)
		n.value = value
		n.insertedAt = now
		n.accessedAt = now
		c.moveToHead(n)
		return
	}

	if len(c.items) >= c.config.MaxSize {
		c.evictTail()
	}

	n := &node{key: key, value: value, insertedAt: now, accessedAt: now}
	c.items[key] = n
	c.totalBytes += len(value)
	c.addToHead(n)
}

// Get returns the cached value for key. Expired entries are removed and
// reported as misses; hits are marked most recently used.
func (c *StructureCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return "", false
	}
	if time.Since(n.insertedAt) > c.config.TTL {
		c.removeLocked(n)
		return "", false
	}

	n.accessedAt = time.Now()
	c.moveToHead(n)
	return n.value, true
}

// Has reports whether a live entry exists for key without refreshing LRU
// order.
func (c *StructureCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	if time.Since(n.insertedAt) > c.config.TTL {
		c.removeLocked(n)
		return false
	}
	return true
}

// Remove deletes the entry for key if present.
func (c *StructureCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.items[key]; ok {
		c.removeLocked(n)
	}
}

// Clear drops every entry.
func (c *StructureCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*node)
	c.head = nil
	c.tail = nil
	c.totalBytes = 0
}

// CleanupExpired sweeps out all expired entries and returns how many were
// removed.
func (c *StructureCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, n := range c.items {
		if time.Since(n.insertedAt) > c.config.TTL {
			c.removeLocked(n)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot for observability and tests.
func (c *StructureCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:       len(c.items),
		MaxSize:    c.config.MaxSize,
		TotalBytes: c.totalBytes,
	}
	now := time.Now()
	first := true
	for _, n := range c.items {
		age := now.Sub(n.insertedAt)
		if first {
			s.OldestAge, s.NewestAge = age, age
			first = false
			continue
		}
		if age > s.OldestAge {
			s.OldestAge = age
		}
		if age < s.NewestAge {
			s.NewestAge = age
		}
	}
	return s
}

// GetOrExtract returns the cached summary for url, or runs extract once to
// produce it. Concurrent callers for the same url share a single
// extraction.
func (c *StructureCache) GetOrExtract(ctx context.Context, url string, extract func(context.Context) (string, error)) (string, error) {
	v, ok := c.Get(url)
	if c.config.OnLookup != nil {
		c.config.OnLookup(ok)
	}
	if ok {
		return v, nil
	}

	raw, err, _ := c.group.Do(url, func() (any, error) {
		// Re-check: another caller may have populated while we waited.
		if v, ok := c.Get(url); ok {
			return v, nil
		}
		summary, err := extract(ctx)
		if err != nil {
			return "", err
		}
		c.Set(url, summary)
		return summary, nil
	})
	if err != nil {
		return "", err
	}
	return raw.(string), nil
}

// --- linked-list maintenance, all called with the lock held ---

func (c *StructureCache) addToHead(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *StructureCache) moveToHead(n *node) {
	if c.head == n {
		return
	}
	c.unlink(n)
	c.addToHead(n)
}

func (c *StructureCache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

func (c *StructureCache) removeLocked(n *node) {
	c.unlink(n)
	delete(c.items, n.key)
	c.totalBytes -= len(n.value)
}

func (c *StructureCache) evictTail() {
	if c.tail == nil {
		return
	}
	evicted := c.tail
	c.logger.Debug("evicting least recently used entry",
		zap.String("url", evicted.key))
	c.removeLocked(evicted)
}
