package blocker

import (
	"sync"

	"github.com/brentp/intintmap"
	"github.com/dm-vev/powermobs/server/world"
)

const (
	cacheInitialSize = 256
	cacheFillFactor  = 0.6
)

// Cache memoises Index.IsBlocked results per chunk. It is cleared completely on
// every mutation of the index it wraps, and periodically by its owner as a
// safety net. Lookups and stores are guarded separately, so two concurrent
// misses may both compute the same result.
type Cache struct {
	index   *Index
	metrics *Metrics

	mu     sync.Mutex
	gen    uint64
	worlds map[string]*intintmap.Map
}

// NewCache creates a Cache in front of index. The cache subscribes to index
// mutations, so NewCache must be called before the index is used.
func NewCache(index *Index, metrics *Metrics) *Cache {
	c := &Cache{index: index, metrics: metrics, worlds: make(map[string]*intintmap.Map)}
	index.OnChange(c.Clear)
	return c
}

// chunkKey packs a chunk position into a single int64.
func chunkKey(pos world.ChunkPos) int64 {
	return int64(pos[0])<<32 | int64(uint32(pos[1]))
}

// IsBlocked returns the cached blocked state of a chunk, consulting the index
// on a miss.
func (c *Cache) IsBlocked(worldName string, chunk world.ChunkPos) bool {
	key := chunkKey(chunk)

	c.mu.Lock()
	gen := c.gen
	if m, ok := c.worlds[worldName]; ok {
		if v, ok := m.Get(key); ok {
			c.mu.Unlock()
			c.metrics.CacheLookup(true)
			return v == 1
		}
	}
	c.mu.Unlock()
	c.metrics.CacheLookup(false)

	blocked := c.index.IsBlocked(worldName, chunk)
	var v int64
	if blocked {
		v = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return blocked
	}
	m, ok := c.worlds[worldName]
	if !ok {
		m = intintmap.New(cacheInitialSize, cacheFillFactor)
		c.worlds[worldName] = m
	}
	m.Put(key, v)
	return blocked
}

// Clear drops every cached result.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.gen++
	clear(c.worlds)
	c.mu.Unlock()
}

// Len returns the number of cached results across all worlds.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.worlds {
		n += m.Size()
	}
	return n
}
