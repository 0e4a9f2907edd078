package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// DefaultCacheTTL is the default lifetime of a cached tool result.
const DefaultCacheTTL = 60 * time.Second

// Cache holds successful tool results keyed by tool name and parameters.
// Agents often repeat an identical search or scrape within one kickoff.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// NewCache creates a cache with the given TTL (DefaultCacheTTL when <= 0).
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{entries: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

// Get returns a live cached result.
func (c *Cache) Get(toolName string, params map[string]any) (*Result, bool) {
	key := cacheKey(toolName, params)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.result, true
}

// Set stores a result and drops expired entries.
func (c *Cache) Set(toolName string, params map[string]any, r *Result) {
	key := cacheKey(toolName, params)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{result: r, expiresAt: now.Add(c.ttl)}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// json.Marshal sorts map keys, so equal params give equal keys.
func cacheKey(toolName string, params map[string]any) string {
	data, _ := json.Marshal(params)
	h := sha256.Sum256(append([]byte(toolName+"|"), data...))
	return hex.EncodeToString(h[:16])
}

// cachedTool serves repeated calls from a Cache.
type cachedTool struct {
	Tool
	cache *Cache
}

// WithCache wraps t so successful results are reused for identical params.
// A nil cache returns t unchanged.
func WithCache(t Tool, c *Cache) Tool {
	if c == nil {
		return t
	}
	return &cachedTool{Tool: t, cache: c}
}

func (t *cachedTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if r, ok := t.cache.Get(t.Name(), params); ok {
		return r, nil
	}
	r, err := t.Tool.Execute(ctx, params)
	if err == nil && r != nil && r.Success {
		t.cache.Set(t.Name(), params, r)
	}
	return r, err
}
