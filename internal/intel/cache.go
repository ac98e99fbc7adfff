package intel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	cacheKeyPrefix = "ti:"
	hashKeyPrefix  = "tivh:"
)

type cacheEntry struct {
	result  *Result
	hashes  []string
	expires time.Time
}

// Cache is the TI query result cache: an in-process map, optionally backed
// by Redis so replicas share results and invalidations. Redis failures are
// logged and ignored; lost entries are bounded by the TTL.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]cacheEntry
	ttl    time.Duration
	rdb    *redis.Client
	logger *slog.Logger
}

// NewCache builds the cache; rdb may be nil for single-node deployments.
func NewCache(logger *slog.Logger, rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		items:  make(map[string]cacheEntry),
		ttl:    ttl,
		rdb:    rdb,
		logger: logger,
	}
}

// Get returns the cached result for a fingerprint, trying the local tier
// first and Redis second.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Result, bool) {
	c.mu.RLock()
	entry, ok := c.items[fingerprint]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.result, true
	}

	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, cacheKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("ti cache: redis get failed", "err", err)
		}
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("ti cache: corrupt redis entry", "err", err)
		return nil, false
	}
	c.store(fingerprint, &result, result.MatchHashes())
	return &result, true
}

// Set caches the result under the fingerprint and indexes it by the value
// hashes it matched, so indicator changes can evict it.
func (c *Cache) Set(ctx context.Context, fingerprint string, result *Result) {
	hashes := result.MatchHashes()
	c.store(fingerprint, result, hashes)

	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	key := cacheKeyPrefix + fingerprint
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("ti cache: redis set failed", "err", err)
		return
	}
	for _, hash := range hashes {
		hashKey := hashKeyPrefix + hash
		if err := c.rdb.SAdd(ctx, hashKey, key).Err(); err != nil {
			continue
		}
		_ = c.rdb.Expire(ctx, hashKey, c.ttl).Err()
	}
}

func (c *Cache) store(fingerprint string, result *Result, hashes []string) {
	c.mu.Lock()
	c.items[fingerprint] = cacheEntry{
		result:  result,
		hashes:  hashes,
		expires: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Invalidate drops every cached result that matched valueHash.
func (c *Cache) Invalidate(ctx context.Context, valueHash string) int {
	dropped := 0
	c.mu.Lock()
	for fingerprint, entry := range c.items {
		for _, h := range entry.hashes {
			if h == valueHash {
				delete(c.items, fingerprint)
				dropped++
				break
			}
		}
	}
	c.mu.Unlock()

	if c.rdb != nil {
		hashKey := hashKeyPrefix + valueHash
		keys, err := c.rdb.SMembers(ctx, hashKey).Result()
		if err == nil && len(keys) > 0 {
			_ = c.rdb.Del(ctx, append(keys, hashKey)...).Err()
		}
	}
	return dropped
}

// Clear drops every cached TI answer, local and Redis. Used when a source
// is enabled or disabled, which changes the answer to every query.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.items = make(map[string]cacheEntry)
	c.mu.Unlock()
	if c.rdb == nil {
		return
	}
	for _, prefix := range []string{cacheKeyPrefix, hashKeyPrefix} {
		iter := c.rdb.Scan(ctx, 0, prefix+"*", 500).Iterator()
		for iter.Next(ctx) {
			_ = c.rdb.Del(ctx, iter.Val()).Err()
		}
		if err := iter.Err(); err != nil {
			c.logger.Warn("ti cache clear incomplete", "error", err)
		}
	}
}

// Purge removes expired local entries.
func (c *Cache) Purge() {
	now := time.Now()
	c.mu.Lock()
	for fingerprint, entry := range c.items {
		if now.After(entry.expires) {
			delete(c.items, fingerprint)
		}
	}
	c.mu.Unlock()
}

// Len reports live local entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
