package speech

import (
	"context"
	"sync"
)

// Cache is a bounded synthesis cache that evicts the oldest entry first.
type Cache struct {
	mu      sync.Mutex
	limit   int
	order   []string
	entries map[string][]byte
}

// NewCache creates a cache holding at most limit entries. A limit of zero
// disables caching.
func NewCache(limit int) *Cache {
	return &Cache{
		limit:   limit,
		entries: make(map[string][]byte),
	}
}

func cacheKey(req Request) string {
	return req.Voice + "|" + req.Emotion + "|" + req.Text
}

// Get returns the cached PCM for req
func (c *Cache) Get(req Request) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pcm, ok := c.entries[cacheKey(req)]
	return pcm, ok
}

// Put stores pcm for req, dropping the oldest entry when full
func (c *Cache) Put(req Request, pcm []byte) {
	if c.limit <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(req)
	if _, ok := c.entries[key]; ok {
		c.entries[key] = pcm
		return
	}
	for len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.order = append(c.order, key)
	c.entries[key] = pcm
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.entries = make(map[string][]byte)
}

// CachedGateway serves repeated requests from a Cache.
type CachedGateway struct {
	next  Gateway
	cache *Cache
}

// WithCache wraps next with cache
func WithCache(next Gateway, cache *Cache) *CachedGateway {
	return &CachedGateway{next: next, cache: cache}
}

// Synthesize returns a cached result or calls through
func (g *CachedGateway) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if pcm, ok := g.cache.Get(req); ok {
		return pcm, nil
	}
	pcm, err := g.next.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	g.cache.Put(req, pcm)
	return pcm, nil
}

// Cache exposes the underlying cache for resets
func (g *CachedGateway) Cache() *Cache {
	return g.cache
}
