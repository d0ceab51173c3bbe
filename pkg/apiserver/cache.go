package apiserver

import (
	"container/list"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/imsearch/retrieval/pkg/hamming"
	"github.com/imsearch/retrieval/pkg/scoring"
)

// cacheKey identifies one search request by its query codes and
// search parameters.
type cacheKey [32]byte

// queryCacheKey hashes a query's codes, k, and nprobe into a cache
// key, so identical repeated queries hit the cache.
func queryCacheKey(queries []hamming.Code, k, nprobe int) cacheKey {
	h := sha256.New()
	for _, c := range queries {
		h.Write(c[:])
	}
	binary.Write(h, binary.LittleEndian, int32(k))
	binary.Write(h, binary.LittleEndian, int32(nprobe))
	var key cacheKey
	copy(key[:], h.Sum(nil))
	return key
}

type resultCacheEntry struct {
	key       cacheKey
	results   []scoring.ImageScore
	expiresAt time.Time
}

// ResultCache is a thread-safe, capacity-bounded LRU cache of ranked
// search results, keyed by query content rather than raw bytes, with
// an optional TTL.
type ResultCache struct {
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	items map[cacheKey]*list.Element
	order *list.List

	hits   int64
	misses int64
}

// NewResultCache creates a cache holding up to capacity entries, each
// valid for ttl (0 disables expiration).
func NewResultCache(capacity int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[cacheKey]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get looks up cached results for a query.
func (c *ResultCache) Get(queries []hamming.Code, k, nprobe int) ([]scoring.ImageScore, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	key := queryCacheKey(queries, k, nprobe)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*resultCacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.results, true
}

// Put stores ranked results for a query.
func (c *ResultCache) Put(queries []hamming.Code, k, nprobe int, results []scoring.ImageScore) {
	if c.capacity <= 0 {
		return
	}
	key := queryCacheKey(queries, k, nprobe)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*resultCacheEntry)
		entry.results = results
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.order.MoveToFront(elem)
		return
	}

	entry := &resultCacheEntry{key: key, results: results}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	elem := c.order.PushFront(entry)
	c.items[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeLocked(oldest)
		}
	}
}

func (c *ResultCache) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*resultCacheEntry)
	delete(c.items, entry.key)
}

// CacheStats reports cache hit/miss counters.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Size    int
	HitRate float64
}

// Stats returns the cache's current statistics.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return CacheStats{Hits: c.hits, Misses: c.misses, Size: c.order.Len(), HitRate: rate}
}
