package formula

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of parsed formulas a Cache keeps when no
// size is given.
const DefaultCacheSize = 512

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Cache memoizes parsed formulas keyed by their source text. It is owned by
// the caller; the package itself keeps no global state. Parse failures are
// not cached. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, *Expr]
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewCache creates a cache holding up to size parsed formulas.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, *Expr](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &Cache{entries: entries}
}

// Parse returns the cached tree for src, parsing and storing it on a miss.
func (c *Cache) Parse(src string) (*Expr, error) {
	if e, ok := c.entries.Get(src); ok {
		c.hits.Add(1)
		return e, nil
	}
	c.misses.Add(1)
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c.entries.Add(src, e)
	return e, nil
}

// Evaluate is formula.Evaluate backed by the cache.
func (c *Cache) Evaluate(src string, fields map[string]float64) (float64, error) {
	e, err := c.Parse(src)
	if err != nil {
		return 0, err
	}
	if err := Validate(e, FieldSetOf(fields)); err != nil {
		return 0, err
	}
	return e.Eval(fields)
}

// Forget drops src from the cache.
func (c *Cache) Forget(src string) { c.entries.Remove(src) }

// purge empties the cache and resets its counters.
func (c *Cache) purge() {
	c.entries.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.entries.Len(),
	}
}
