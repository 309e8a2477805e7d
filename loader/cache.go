package loader

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Cache remembers parsed image headers by content hash so a program that
// is exec'd over and over is only parsed once.
type Cache struct {
	mu sync.RWMutex

	cache *lru.ARCCache
}

func NewCache(size int) *Cache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}

	return &Cache{cache: cache}
}

func (c *Cache) Lookup(key string) (*header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}

	return val.(*header), true
}

func (c *Cache) Set(key string, h *header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, h)
}

func (c *Cache) Len() int {
	return c.cache.Len()
}
