package query

import (
	"container/list"
	"sync"
)

type cacheEntry struct {
	key   string
	value []Result
}

// resultCache is a bounded least-recently-used cache of merged results.
// Values are copied on the way in and out.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	ll       *list.List
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &resultCache{
		capacity: size,
		items:    make(map[string]*list.Element, size),
		ll:       list.New(),
	}
}

func (c *resultCache) Get(key string) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(elem)
	return copyResults(elem.Value.(cacheEntry).value), true
}

func (c *resultCache) Set(key string, value []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{key: key, value: copyResults(value)}
	if elem, ok := c.items[key]; ok {
		elem.Value = entry
		c.ll.MoveToFront(elem)
		return
	}
	c.items[key] = c.ll.PushFront(entry)
	if c.ll.Len() > c.capacity {
		if tail := c.ll.Back(); tail != nil {
			c.ll.Remove(tail)
			delete(c.items, tail.Value.(cacheEntry).key)
		}
	}
}

func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *resultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.ll = list.New()
}

func copyResults(in []Result) []Result {
	out := make([]Result, len(in))
	copy(out, in)
	return out
}
