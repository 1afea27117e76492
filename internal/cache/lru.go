package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxEntries = 256

// Cache is a bounded key/value store whose entries may expire. Callers treat
// a miss as a signal to recompute from the source of truth.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Remove(key K)
	Purge()
	Len() int
	// Sweep drops expired entries and reports how many remain.
	Sweep() int
}

type LRU[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewLRU returns a cache holding at most size entries for ttl each. A zero
// ttl keeps entries until they are evicted by size.
func NewLRU[K comparable, V any](size int, ttl time.Duration) *LRU[K, V] {
	if size <= 0 {
		size = defaultMaxEntries
	}
	return &LRU[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

func (c *LRU[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

func (c *LRU[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

func (c *LRU[K, V]) Purge() {
	c.lru.Purge()
}

func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

func (c *LRU[K, V]) Sweep() int {
	for _, key := range c.lru.Keys() {
		if _, ok := c.lru.Peek(key); !ok {
			c.lru.Remove(key)
		}
	}
	return c.lru.Len()
}
