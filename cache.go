package access

import (
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ResolutionKey identifies one memoized permission set. The key is a typed
// struct: callers never compose cache key strings themselves, and
// invalidation enumerates the fixed set of flag combinations explicitly.
type ResolutionKey struct {
	UserID            int64
	IncludeOverrides  bool
	IncludeConditions bool
}

// CacheKey returns the canonical string form used by external key/value
// backends.
func (k ResolutionKey) CacheKey() string {
	b := make([]byte, 0, 24)
	b = append(b, "perm:"...)
	b = strconv.AppendInt(b, k.UserID, 10)
	b = append(b, ':')
	b = appendFlag(b, k.IncludeOverrides)
	b = appendFlag(b, k.IncludeConditions)
	return string(b)
}

func appendFlag(b []byte, v bool) []byte {
	if v {
		return append(b, '1')
	}
	return append(b, '0')
}

// keyVariants enumerates every flag combination for one user, for
// invalidate-on-write.
func keyVariants(userID int64) [4]ResolutionKey {
	return [4]ResolutionKey{
		{UserID: userID, IncludeOverrides: true, IncludeConditions: true},
		{UserID: userID, IncludeOverrides: true, IncludeConditions: false},
		{UserID: userID, IncludeOverrides: false, IncludeConditions: true},
		{UserID: userID, IncludeOverrides: false, IncludeConditions: false},
	}
}

// ResolutionCache memoizes resolved permission sets. Implementations must be
// safe for concurrent use; a read racing an invalidation may return a
// just-stale value for the remainder of one in-flight request but never
// beyond the TTL.
type ResolutionCache interface {
	Get(key ResolutionKey) (*PermissionSet, bool)
	Set(key ResolutionKey, set *PermissionSet, ttl time.Duration)
	Delete(key ResolutionKey)
}

// ============================================================================
// IN-MEMORY CACHE
// ============================================================================

type cacheEntry struct {
	set       *PermissionSet
	expiresAt time.Time
}

// MemoryResolutionCache is a mutex-guarded map with TTL expiry. It is the
// engine default: deterministic and dependency-free.
type MemoryResolutionCache struct {
	mu      sync.RWMutex
	entries map[ResolutionKey]cacheEntry
	now     func() time.Time
}

func NewMemoryResolutionCache() *MemoryResolutionCache {
	return &MemoryResolutionCache{
		entries: make(map[ResolutionKey]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryResolutionCache) Get(key ResolutionKey) (*PermissionSet, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.set, true
}

func (c *MemoryResolutionCache) Set(key ResolutionKey, set *PermissionSet, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{set: set, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryResolutionCache) Delete(key ResolutionKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// ============================================================================
// RISTRETTO CACHE
// ============================================================================

// RistrettoCache memoizes permission sets in a ristretto cache. Admission is
// probabilistic: a Set may be dropped under pressure, which only costs a
// recomputation.
type RistrettoCache struct {
	cache *ristretto.Cache
}

// NewRistrettoCache builds a TTL-aware ristretto-backed cache. Zero arguments
// fall back to sizings suitable for tens of thousands of users.
func NewRistrettoCache(numCounters, maxCost, bufferItems int64) (*RistrettoCache, error) {
	if numCounters <= 0 {
		numCounters = 100_000
	}
	if maxCost <= 0 {
		maxCost = 10_000
	}
	if bufferItems <= 0 {
		bufferItems = 64
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{cache: c}, nil
}

func (c *RistrettoCache) Get(key ResolutionKey) (*PermissionSet, bool) {
	v, ok := c.cache.Get(key.CacheKey())
	if !ok {
		return nil, false
	}
	set, ok := v.(*PermissionSet)
	return set, ok
}

func (c *RistrettoCache) Set(key ResolutionKey, set *PermissionSet, ttl time.Duration) {
	c.cache.SetWithTTL(key.CacheKey(), set, 1, ttl)
}

func (c *RistrettoCache) Delete(key ResolutionKey) {
	c.cache.Del(key.CacheKey())
}

// Close releases the ristretto internals.
func (c *RistrettoCache) Close() {
	c.cache.Close()
}
