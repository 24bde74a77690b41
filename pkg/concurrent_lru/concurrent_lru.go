// Package concurrent_lru provides a string keyed LRU that is safe for
// concurrent use.
package concurrent_lru

import (
	"hash/maphash"
	"strings"
	"sync"

	"github.com/pmkol/locres/pkg/lru"
)

// ShardedLRU spreads keys over independently locked LRUs. Each shard
// evicts on its own, so the total capacity is shardNum * maxSizePerShard
// only when keys hash evenly.
type ShardedLRU[V any] struct {
	seed   maphash.Seed
	shards []*shard[V]
	mask   uint64 // len(shards) - 1
}

type shard[V any] struct {
	mu  sync.Mutex
	lru *lru.LRU[string, V]
}

func NewShardedLRU[V any](shardNum, maxSizePerShard int, onEvict func(key string, v V)) *ShardedLRU[V] {
	if shardNum <= 0 || shardNum&(shardNum-1) != 0 {
		panic("shardNum must be a power of 2 and > 0")
	}

	c := &ShardedLRU[V]{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard[V], shardNum),
		mask:   uint64(shardNum - 1),
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{lru: lru.NewLRU[string, V](maxSizePerShard, onEvict)}
	}
	return c
}

func (c *ShardedLRU[V]) shardOf(key string) *shard[V] {
	return c.shards[maphash.String(c.seed, key)&c.mask]
}

func (c *ShardedLRU[V]) Add(key string, v V) {
	s := c.shardOf(key)
	s.mu.Lock()
	s.lru.Add(key, v)
	s.mu.Unlock()
}

func (c *ShardedLRU[V]) Del(key string) {
	s := c.shardOf(key)
	s.mu.Lock()
	s.lru.Del(key)
	s.mu.Unlock()
}

// Get returns the value of key and marks it as recently used.
func (c *ShardedLRU[V]) Get(key string) (v V, ok bool) {
	s := c.shardOf(key)
	s.mu.Lock()
	v, ok = s.lru.Get(key)
	s.mu.Unlock()
	return v, ok
}

// Clean removes every entry for which f returns true.
func (c *ShardedLRU[V]) Clean(f func(key string, v V) bool) (removed int) {
	for _, s := range c.shards {
		s.mu.Lock()
		removed += s.lru.Clean(f)
		s.mu.Unlock()
	}
	return removed
}

// Range calls f on every entry until f returns false. Shards are locked
// one at a time, so Range does not see a point-in-time view.
func (c *ShardedLRU[V]) Range(f func(key string, v V) bool) {
	for _, s := range c.shards {
		cont := true
		s.mu.Lock()
		s.lru.Range(func(key string, v V) bool {
			cont = f(key, v)
			return cont
		})
		s.mu.Unlock()
		if !cont {
			return
		}
	}
}

// Keys returns the keys that start with prefix, in no particular order.
func (c *ShardedLRU[V]) Keys(prefix string) []string {
	var keys []string
	c.Range(func(key string, _ V) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

func (c *ShardedLRU[V]) Len() (n int) {
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}
