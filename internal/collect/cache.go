package collect

import (
	"sync"
	"time"
)

type cacheItem struct {
	value   any
	expires time.Time
}

// ttlCache keeps collector results per host so repeated scans of the same
// host inside the TTL window reuse WHOIS/DNS/TLS/HTTP evidence.
type ttlCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cacheItem
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, items: make(map[string]cacheItem)}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(item.expires) {
		return nil, false
	}
	return item.value, true
}

func (c *ttlCache) set(key string, value any) {
	c.mu.Lock()
	c.items[key] = cacheItem{value: value, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// purge drops expired entries; called periodically by the owner.
func (c *ttlCache) purge() {
	now := time.Now()
	c.mu.Lock()
	for key, item := range c.items {
		if now.After(item.expires) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}

func (c *ttlCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
