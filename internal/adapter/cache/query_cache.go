package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"sync"
	"time"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/port"
)

// QueryCache is a bounded LRU of text-probe embeddings with a TTL.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	vector    domain.Vector
	timestamp time.Time
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(model, query string) string {
	hash := sha256.Sum256([]byte(model + "\x00" + query))
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(model, query string) (domain.Vector, bool) {
	key := cacheKey(model, query)

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.now().Sub(entry.timestamp) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}

	c.moveToEnd(key)
	return entry.vector, true
}

func (c *QueryCache) Put(model, query string, v domain.Vector) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(model, query)

	if _, exists := c.entries[key]; exists {
		c.entries[key] = &cacheEntry{vector: v, timestamp: c.now()}
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &cacheEntry{vector: v, timestamp: c.now()}
	c.order = append(c.order, key)
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// CachedEmbedder serves repeated text probes from a QueryCache. Image
// probes pass straight through.
type CachedEmbedder struct {
	port.Embedder
	cache *QueryCache
}

var _ port.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(embedder port.Embedder, cache *QueryCache) *CachedEmbedder {
	return &CachedEmbedder{
		Embedder: embedder,
		cache:    cache,
	}
}

func (e *CachedEmbedder) EmbedText(ctx context.Context, text string) (domain.Vector, error) {
	model := e.Embedder.ModelName()
	if v, hit := e.cache.Get(model, text); hit {
		return v, nil
	}

	v, err := e.Embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Put(model, text, v)
	return v, nil
}

func (e *CachedEmbedder) EmbedImage(ctx context.Context, img image.Image) (domain.Vector, error) {
	return e.Embedder.EmbedImage(ctx, img)
}
