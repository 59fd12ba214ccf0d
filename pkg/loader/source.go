package loader

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SourceRef addresses raw input held by a SourceLoader.
type SourceRef struct {
	ID     string
	Path   string
	Format Format
}

// SourceLoader fetches the raw bytes of a source. Implementations may read
// from disk, object storage or the web.
type SourceLoader interface {
	Load(ctx context.Context, ref SourceRef) ([]byte, error)
}

// CacheKey identifies a source for loader caches.
func CacheKey(ref SourceRef) string {
	return fmt.Sprintf("%s:%s", ref.ID, ref.Path)
}

// Cache memoizes loaded sources by CacheKey and collapses concurrent loads
// of the same key into one.
type Cache struct {
	mu    sync.RWMutex
	items map[string][]byte
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{items: make(map[string][]byte)}
}

func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.items[key]
	return b, ok
}

// Load returns the cached bytes for key or calls fn once to fill them.
// Failed loads are not cached.
func (c *Cache) Load(key string, fn func() ([]byte, error)) ([]byte, error) {
	if cached, ok := c.get(key); ok {
		return cached, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if cached, ok := c.get(key); ok {
			return cached, nil
		}
		b, err := fn()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[key] = b
		c.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Forget drops a cached entry.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	c.group.Forget(key)
}
