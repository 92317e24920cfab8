package geo

import "sync"

// Cache memoizes geocoding results by address so repeat plans don't burn
// provider quota. Safe for concurrent use.
type Cache struct {
	mu sync.Mutex
	m  map[string]Point
}

// NewCache constructs an empty Cache.
func NewCache() *Cache { return &Cache{m: map[string]Point{}} }

func (c *Cache) Get(address string) (Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.m[address]
	return p, ok
}

func (c *Cache) Put(address string, p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[address] = p
}

// Len reports how many addresses are cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
