package caching

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
	seq       uint64
}

type orderingSlot struct {
	key string
	seq uint64
}

// TTLCache memoizes keyed values with absolute expiry and a bounded size.
// When a write would exceed maxSize the oldest-inserted entry is evicted
// (insertion order, deliberately not access order). Expired entries are
// removed lazily on access.
type TTLCache struct {
	mu       sync.Mutex
	name     string
	ttl      time.Duration
	maxSize  int
	entries  map[string]*ttlEntry
	ordering []orderingSlot
	seq      uint64

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64
}

var _ MemCache = (*TTLCache)(nil)

func NewTTLCache(name string, ttl time.Duration, maxSize int) (*TTLCache, error) {
	if ttl <= 0 || maxSize <= 0 {
		return nil, ErrInvalidCacheConfig
	}

	return &TTLCache{
		name:     name,
		ttl:      ttl,
		maxSize:  maxSize,
		entries:  make(map[string]*ttlEntry),
		ordering: make([]orderingSlot, 0, maxSize),
	}, nil
}

func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++

		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.expired++
		c.misses++

		return nil, false
	}

	c.hits++

	return entry.value, true
}

func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		// overwrite keeps the original insertion position
		existing.value = value
		existing.expiresAt = time.Now().Add(c.ttl)

		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.seq++
	c.entries[key] = &ttlEntry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
		seq:       c.seq,
	}
	c.ordering = append(c.ordering, orderingSlot{key: key, seq: c.seq})
}

func (c *TTLCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.expired++

		return false
	}

	return true
}

func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*ttlEntry)
	c.ordering = c.ordering[:0]

	log.WithField("cache", c.name).Debug("cache cleared")
}

func (c *TTLCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      len(c.entries),
	}
}

// evictOldest drops the oldest-inserted live entry. Ordering slots may be
// stale after lazy expiry or re-insertion, mismatched sequences are skipped.
func (c *TTLCache) evictOldest() {
	for len(c.ordering) > 0 {
		oldest := c.ordering[0]
		c.ordering = c.ordering[1:]

		entry, ok := c.entries[oldest.key]
		if !ok || entry.seq != oldest.seq {
			continue
		}

		delete(c.entries, oldest.key)
		c.evictions++

		log.WithField("cache", c.name).WithField("key", oldest.key).Debug("evicted oldest cache entry")

		return
	}
}
