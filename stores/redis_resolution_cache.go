package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hrkit/access"
	"github.com/redis/go-redis/v9"
)

// RedisResolutionCache memoizes resolved permission sets in Redis so several
// app processes share one cache and one invalidation. Entries are
// JSON-encoded; failures degrade to a cache miss, never to an error on the
// permission check path.
type RedisResolutionCache struct {
	client *redis.Client
	prefix string
}

func NewRedisResolutionCache(client *redis.Client, prefix string) *RedisResolutionCache {
	if prefix == "" {
		prefix = "access:"
	}
	return &RedisResolutionCache{client: client, prefix: prefix}
}

func (c *RedisResolutionCache) Get(key access.ResolutionKey) (*access.PermissionSet, bool) {
	data, err := c.client.Get(context.Background(), c.prefix+key.CacheKey()).Bytes()
	if err != nil {
		return nil, false
	}
	set := &access.PermissionSet{}
	if err := json.Unmarshal(data, set); err != nil {
		return nil, false
	}
	return set, true
}

func (c *RedisResolutionCache) Set(key access.ResolutionKey, set *access.PermissionSet, ttl time.Duration) {
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	c.client.Set(context.Background(), c.prefix+key.CacheKey(), data, ttl)
}

func (c *RedisResolutionCache) Delete(key access.ResolutionKey) {
	c.client.Del(context.Background(), c.prefix+key.CacheKey())
}
