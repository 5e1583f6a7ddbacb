package cvr

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultCacheTTL      = 24 * time.Hour
	defaultCacheCapacity = 10000
)

// CacheConfig bounds the CVR cache. Eviction is a normal protocol event: a
// pull presenting an evicted CVR id gets a full resync.
type CacheConfig struct {
	TTL      time.Duration
	Capacity uint64
}

// Cache holds recent CVRs keyed by the opaque id embedded in pull cookies.
// Keys are fresh per pull, so entries are written once and never updated.
type Cache struct {
	entries *ttlcache.Cache[string, CVR]
}

// NewCache constructs and starts a bounded, TTL-evicting CVR cache.
func NewCache(cfg CacheConfig) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = defaultCacheCapacity
	}
	entries := ttlcache.New[string, CVR](
		ttlcache.WithTTL[string, CVR](ttl),
		ttlcache.WithCapacity[string, CVR](capacity),
	)
	go entries.Start()
	return &Cache{entries: entries}
}

// Get returns the CVR stored under id, or false when it was never stored or
// has been evicted.
func (c *Cache) Get(id string) (CVR, bool) {
	item := c.entries.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Put stores the CVR under a fresh id.
func (c *Cache) Put(id string, record CVR) {
	c.entries.Set(id, record, ttlcache.DefaultTTL)
}

// Stop halts the background eviction loop.
func (c *Cache) Stop() {
	c.entries.Stop()
}
