// Package cache provides the get-or-load caches shared by merge and commit calls.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a get-or-load cache guarded by its own mutex.
//
// A cache created with size zero never evicts, so entries live for the lifetime of the cache.
type Cache[K comparable, V any] struct {
	lock    sync.Mutex
	entries map[K]V
	lru     *lru.Cache[K, V]
}

// New returns a cache holding at most size entries, or an unbounded cache when size is zero.
func New[K comparable, V any](size int) (*Cache[K, V], error) {
	c := &Cache[K, V]{}
	if size <= 0 {
		c.entries = make(map[K]V)
		return c, nil
	}
	l, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns the cached value for the key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.get(key)
}

// Add stores the value for the key.
func (c *Cache[K, V]) Add(key K, val V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.add(key, val)
}

// GetOrLoad returns the cached value or calls load and caches its result.
//
// The lock is held while loading so a key is never loaded twice concurrently.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if val, ok := c.get(key); ok {
		return val, nil
	}
	val, err := load()
	if err != nil {
		return val, err
	}
	c.add(key, val)
	return val, nil
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.lru != nil {
		return c.lru.Len()
	}
	return len(c.entries)
}

func (c *Cache[K, V]) get(key K) (V, bool) {
	if c.lru != nil {
		return c.lru.Get(key)
	}
	val, ok := c.entries[key]
	return val, ok
}

func (c *Cache[K, V]) add(key K, val V) {
	if c.lru != nil {
		c.lru.Add(key, val)
		return
	}
	c.entries[key] = val
}
