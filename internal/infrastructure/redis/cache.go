package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/avatarctic/imitation-player/internal/core/domain/offline"
)

// ResponseCache implements ports.ResponseCache using a Redis client.
//
// Layout under prefix:
//
//	<prefix>:entry:<generation>:<url>  JSON encoded offline.Entry
//	<prefix>:generation:<generation>   set of entry keys
//	<prefix>:generations               set of generation tags
//	<prefix>:active                    active generation tag
type ResponseCache struct {
	r redis.Cmdable
	// optional key prefix to namespace entries
	prefix string
}

// NewResponseCache creates a new Redis-backed response cache.
func NewResponseCache(r redis.Cmdable, prefix string) *ResponseCache {
	return &ResponseCache{r: r, prefix: prefix}
}

func (c *ResponseCache) namespaced(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

func (c *ResponseCache) entryKey(generation, url string) string {
	return c.namespaced("entry:" + generation + ":" + url)
}

func (c *ResponseCache) generationKey(generation string) string {
	return c.namespaced("generation:" + generation)
}

// Match implements ResponseCache.Match.
func (c *ResponseCache) Match(ctx context.Context, generation, key string) (*offline.Entry, error) {
	val, err := c.r.Get(ctx, c.entryKey(generation, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match cache entry: %w", err)
	}
	var e offline.Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &e, nil
}

// Put implements ResponseCache.Put.
func (c *ResponseCache) Put(ctx context.Context, generation string, entry *offline.Entry) error {
	return c.PutAll(ctx, generation, []*offline.Entry{entry})
}

// putIfAbsent stores the entry and indexes it in one step. KEYS: entry,
// generation set, generations set. ARGV: encoded entry, generation tag.
var putIfAbsent = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX") then
	redis.call("SADD", KEYS[2], KEYS[1])
	redis.call("SADD", KEYS[3], ARGV[2])
	return 1
end
return 0
`)

// PutIfAbsent implements ResponseCache.PutIfAbsent.
func (c *ResponseCache) PutIfAbsent(ctx context.Context, generation string, entry *offline.Entry) (bool, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	keys := []string{c.entryKey(generation, entry.URL), c.generationKey(generation), c.namespaced("generations")}
	stored, err := putIfAbsent.Run(ctx, c.r, keys, data, generation).Int()
	if err != nil {
		return false, fmt.Errorf("failed to store cache entry: %w", err)
	}
	return stored == 1, nil
}

// PutAll writes all entries in one MULTI/EXEC block.
func (c *ResponseCache) PutAll(ctx context.Context, generation string, entries []*offline.Entry) error {
	pipe := c.r.TxPipeline()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode cache entry: %w", err)
		}
		key := c.entryKey(generation, entry.URL)
		pipe.Set(ctx, key, data, 0)
		pipe.SAdd(ctx, c.generationKey(generation), key)
	}
	pipe.SAdd(ctx, c.namespaced("generations"), generation)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store cache entries: %w", err)
	}
	return nil
}

// Generations implements ResponseCache.Generations.
func (c *ResponseCache) Generations(ctx context.Context) ([]string, error) {
	gens, err := c.r.SMembers(ctx, c.namespaced("generations")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache generations: %w", err)
	}
	return gens, nil
}

// DeleteGeneration removes every entry of generation.
func (c *ResponseCache) DeleteGeneration(ctx context.Context, generation string) error {
	genKey := c.generationKey(generation)
	keys, err := c.r.SMembers(ctx, genKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list cache generation %s: %w", generation, err)
	}
	pipe := c.r.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, genKey)
	pipe.SRem(ctx, c.namespaced("generations"), generation)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete cache generation %s: %w", generation, err)
	}
	return nil
}

// ActiveGeneration implements ResponseCache.ActiveGeneration.
func (c *ResponseCache) ActiveGeneration(ctx context.Context) (string, error) {
	gen, err := c.r.Get(ctx, c.namespaced("active")).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load active generation: %w", err)
	}
	return gen, nil
}

// SetActiveGeneration implements ResponseCache.SetActiveGeneration.
func (c *ResponseCache) SetActiveGeneration(ctx context.Context, generation string) error {
	return c.r.Set(ctx, c.namespaced("active"), generation, 0).Err()
}
