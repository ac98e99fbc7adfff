package scan

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/urlwarden/urlwarden-go/internal/db"
)

const (
	verdictKeyPrefix = "sv:"
	verdictHashIndex = "svvh:"
)

type cacheEntry struct {
	verdict *Verdict
	hashes  []string
	expires time.Time
}

// Cache holds completed verdicts by fingerprint: an in-process map with an
// optional Redis tier so replicas share results. Each entry is indexed by
// the indicator hashes its TI matches referenced, so an indicator change
// can evict exactly the verdicts it affected. Redis failures are logged
// and ignored; stale entries are bounded by the TTL.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]cacheEntry
	ttl    time.Duration
	rdb    *redis.Client
	logger *slog.Logger
}

// NewCache builds the verdict cache; rdb may be nil.
func NewCache(logger *slog.Logger, rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		items:  make(map[string]cacheEntry),
		ttl:    ttl,
		rdb:    rdb,
		logger: logger,
	}
}

// Get returns a fresh cached verdict for the fingerprint.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Verdict, bool) {
	c.mu.RLock()
	entry, ok := c.items[fingerprint]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.verdict, true
	}

	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, verdictKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("verdict cache: redis get failed", "err", err)
		}
		return nil, false
	}
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("verdict cache: corrupt redis entry", "err", err)
		return nil, false
	}
	c.store(fingerprint, &v)
	return &v, true
}

// Set caches the verdict and indexes it by its TI match hashes.
func (c *Cache) Set(ctx context.Context, fingerprint string, v *Verdict) {
	c.store(fingerprint, v)

	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	key := verdictKeyPrefix + fingerprint
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("verdict cache: redis set failed", "err", err)
		return
	}
	for _, hash := range v.MatchHashes() {
		hashKey := verdictHashIndex + hash
		if err := c.rdb.SAdd(ctx, hashKey, key).Err(); err != nil {
			continue
		}
		_ = c.rdb.Expire(ctx, hashKey, c.ttl).Err()
	}
}

func (c *Cache) store(fingerprint string, v *Verdict) {
	c.mu.Lock()
	c.items[fingerprint] = cacheEntry{
		verdict: v,
		hashes:  v.MatchHashes(),
		expires: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Invalidate drops every verdict whose TI matches referenced valueHash.
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
		hashKey := verdictHashIndex + valueHash
		keys, err := c.rdb.SMembers(ctx, hashKey).Result()
		if err == nil && len(keys) > 0 {
			_ = c.rdb.Del(ctx, append(keys, hashKey)...).Err()
		}
	}
	return dropped
}

// Evict drops one fingerprint from both tiers; wired to the admin API.
func (c *Cache) Evict(ctx context.Context, fingerprint string) {
	c.mu.Lock()
	delete(c.items, fingerprint)
	c.mu.Unlock()
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, verdictKeyPrefix+fingerprint).Err()
	}
}

// Warm seeds the local tier from persisted verdict rows, honoring the
// remaining TTL of each row. Returns the number of verdicts loaded.
func (c *Cache) Warm(rows []db.VerdictRow) int {
	now := time.Now()
	loaded := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		expires := row.CreatedAt.Add(c.ttl)
		if !expires.After(now) {
			continue
		}
		var v Verdict
		if err := json.Unmarshal(row.Verdict, &v); err != nil {
			c.logger.Warn("verdict cache warm: bad document", "fingerprint", row.Fingerprint, "error", err)
			continue
		}
		c.items[row.Fingerprint] = cacheEntry{
			verdict: &v,
			hashes:  row.MatchesHashes,
			expires: expires,
		}
		loaded++
	}
	return loaded
}

// Clear drops every cached verdict, local and Redis. Used when source
// configuration changes make the whole cache population suspect.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.items = make(map[string]cacheEntry)
	c.mu.Unlock()
	if c.rdb == nil {
		return
	}
	for _, prefix := range []string{verdictKeyPrefix, verdictHashIndex} {
		iter := c.rdb.Scan(ctx, 0, prefix+"*", 500).Iterator()
		for iter.Next(ctx) {
			_ = c.rdb.Del(ctx, iter.Val()).Err()
		}
		if err := iter.Err(); err != nil {
			c.logger.Warn("verdict cache clear incomplete", "error", err)
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
