package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// LRU is a generic LRU bounded by the summed cost of its values.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	cost     func(V) int64
	items    map[K]*list.Element
	order    *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
	cost  int64
}

// NewLRU creates an LRU holding at most capacity cost units. A capacity of
// zero disables caching.
func NewLRU[K comparable, V any](capacity int64, cost func(V) int64) *LRU[K, V] {
	return &LRU[K, V]{
		capacity: capacity,
		cost:     cost,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.order.MoveToFront(el)
		return el.Value.(*lruEntry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

func (c *LRU[K, V]) Put(key K, value V) {
	cost := c.cost(value)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cost > c.capacity {
		return
	}
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	for c.size+cost > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value, cost: cost})
	c.size += cost
}

// Purge drops entries matching pred.
func (c *LRU[K, V]) Purge(pred func(K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.items {
		if pred(key) {
			c.removeElement(el)
		}
	}
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*lruEntry[K, V])
	delete(c.items, e.key)
	c.size -= e.cost
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
