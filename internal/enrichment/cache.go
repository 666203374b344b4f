package enrichment

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded LRU mapping canonical IP to its most recent
// enrichment Record. The cache holds no TTLs: Get and Put store and
// retrieve whatever they are given regardless of age, and Fresh judges a
// record against the TTLs its caller (the filter middleware) passes in.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, Record]
}

// NewCache builds a Cache bounded to size entries.
func NewCache(size int) (*Cache, error) {
	l, err := lru.New[string, Record](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the record stored for ip, if any. The second return value
// is false on a miss.
func (c *Cache) Get(ip string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(ip)
}

// Put stores record for ip, evicting the least recently used entry if
// the cache is at capacity.
func (c *Cache) Put(ip string, record Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(ip, record)
}

// Len reports the current number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Fresh reports whether the cached record for ip, if present, is still
// usable without a refetch as of now.
func (c *Cache) Fresh(ip string, now time.Time, invalidateSuccessAfter, invalidateErrorAfter time.Duration) (Record, bool) {
	record, ok := c.Get(ip)
	if !ok {
		return Record{}, false
	}
	if !record.Fresh(now, invalidateSuccessAfter, invalidateErrorAfter) {
		return record, false
	}
	return record, true
}
