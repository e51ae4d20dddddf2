package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Sharded is a string-keyed cache split across fixed shards so concurrent
// readers do not contend on a single lock. Entries expire after the
// configured TTL; an expired entry is a miss.
type Sharded[V any] struct {
	ttl    time.Duration
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// New creates a sharded cache. ttl <= 0 means entries never expire.
func New[V any](ttl time.Duration) *Sharded[V] {
	c := &Sharded[V]{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return c
}

func (c *Sharded[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a value under key, resetting its age.
func (c *Sharded[V]) Set(key string, value V) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Get retrieves a live value for key.
func (c *Sharded[V]) Get(key string) (V, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key from the cache.
func (c *Sharded[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards, expired entries included.
func (c *Sharded[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes expired entries and reports how many were dropped.
func (c *Sharded[V]) Cleanup() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.items {
			if c.expired(e) {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (c *Sharded[V]) expired(e entry[V]) bool {
	return c.ttl > 0 && time.Since(e.updatedAt) > c.ttl
}
