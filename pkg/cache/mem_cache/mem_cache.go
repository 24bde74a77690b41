package mem_cache

import (
	"sync/atomic"
	"time"

	"github.com/pmkol/locres/pkg/cache"
	"github.com/pmkol/locres/pkg/concurrent_lru"
)

const (
	shardSize              = 64
	defaultCleanerInterval = time.Minute
)

var _ cache.Backend = (*MemCache)(nil)

// MemCache is an in-process cache.Backend.
type MemCache struct {
	closed           uint32
	closeCleanerChan chan struct{}
	lru              *concurrent_lru.ShardedLRU[*elem]
}

type elem struct {
	v          []byte
	storedTime int64 // unix nano
	expire     int64 // unix nano
}

// NewMemCache returns a MemCache that holds roughly size keys.
// A cleaner removes expired keys every cleanerInterval. If
// cleanerInterval <= 0, expired keys are only skipped on read.
func NewMemCache(size int, cleanerInterval time.Duration) *MemCache {
	sizePerShard := size / shardSize
	if sizePerShard < 16 {
		sizePerShard = 16
	}
	c := &MemCache{
		closeCleanerChan: make(chan struct{}),
		lru:              concurrent_lru.NewShardedLRU[*elem](shardSize, sizePerShard, nil),
	}

	if cleanerInterval > 0 {
		go c.startCleaner(cleanerInterval)
	}
	return c
}

func (c *MemCache) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

// Close stops the cleaner. A closed MemCache always misses.
func (c *MemCache) Close() error {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		close(c.closeCleanerChan)
	}
	return nil
}

func (c *MemCache) Get(key string) (v []byte, ok bool) {
	if c.isClosed() {
		return nil, false
	}

	e, found := c.lru.Get(key)
	if !found || time.Now().UnixNano() > e.expire {
		return nil, false
	}
	return e.v, true
}

func (c *MemCache) Store(key string, v []byte, expire int64) {
	if c.isClosed() {
		return
	}
	c.store(key, v, time.Now().UnixNano(), expire)
}

func (c *MemCache) store(key string, v []byte, storedTime, expire int64) {
	buf := make([]byte, len(v))
	copy(buf, v)
	c.lru.Add(key, &elem{
		v:          buf,
		storedTime: storedTime,
		expire:     expire,
	})
}

func (c *MemCache) Del(key string) {
	c.lru.Del(key)
}

func (c *MemCache) Keys(prefix string) []string {
	return c.lru.Keys(prefix)
}

func (c *MemCache) Len() int {
	return c.lru.Len()
}

func (c *MemCache) startCleaner(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCleanerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCleanerChan:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			c.lru.Clean(func(_ string, e *elem) bool {
				return e.expire <= now
			})
		}
	}
}
