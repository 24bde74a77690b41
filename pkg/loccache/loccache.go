// Package loccache caches location lookups on top of a cache.Backend.
//
// Entries carry their own creation time and a TTL fixed by the query type.
// An entry is fresh while now < timestamp + ttl. Stale or undecodable
// entries are deleted when read. Entries whose encoded form is larger than
// MaxEntrySize are never written.
//
// Caching is an optimization only: nothing in this package returns an
// error to the caller after construction. Backend and codec failures are
// logged and surface as misses.
package loccache

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pmkol/locres/pkg/cache"
	"github.com/pmkol/locres/pkg/location"
	"github.com/pmkol/locres/pkg/pool"
	"github.com/pmkol/locres/pkg/utils"
)

// DefaultMaxEntrySize bounds the encoded size of one entry in bytes.
// It keeps a single entry within what a browser cookie can hold.
const DefaultMaxEntrySize = 3500

var nopLogger = zap.NewNop()

// Entry is the stored form of a cached lookup.
type Entry[T any] struct {
	Data       T     `json:"data"`
	Timestamp  int64 `json:"timestamp"` // unix milli
	TTLMinutes int   `json:"ttlMinutes"`
}

func (e *Entry[T]) ExpiresAt() time.Time {
	return time.UnixMilli(e.Timestamp).Add(time.Duration(e.TTLMinutes) * time.Minute)
}

// Fresh reports whether e may still be served at now.
func (e *Entry[T]) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt())
}

type Opts struct {
	// Backend cannot be nil.
	Backend cache.Backend

	// MaxEntrySize is the largest encoded entry that will be stored.
	// Default is DefaultMaxEntrySize.
	MaxEntrySize int

	// Now returns the current time. Default is time.Now.
	Now func() time.Time

	// Logger is the *zap.Logger for this Cache.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// MetricsReg registers the cache counters. Optional.
	MetricsReg prometheus.Registerer
}

func (opts *Opts) Init() error {
	if opts.Backend == nil {
		return errors.New("nil backend")
	}
	utils.SetDefaultNum(&opts.MaxEntrySize, DefaultMaxEntrySize)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Cache is the location cache. It is safe for concurrent use.
type Cache struct {
	opts Opts

	// mu makes read-check-evict and encode-check-size-write atomic.
	mu sync.Mutex

	lookupTotal   *prometheus.CounterVec
	oversizeTotal *prometheus.CounterVec
}

// Stats counts stored entries per query type. Entries that expired but
// were not read since are still counted.
type Stats struct {
	Total     int `json:"total"`
	Countries int `json:"countries"`
	States    int `json:"states"`
	Cities    int `json:"cities"`
}

func New(opts Opts) (*Cache, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}

	c := &Cache{
		opts: opts,
		lookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "location_cache_lookup_total",
			Help: "The total number of location cache lookups, by query type and result",
		}, []string{"type", "result"}),
		oversizeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "location_cache_oversize_total",
			Help: "The total number of entries not stored because they were too large",
		}, []string{"type"}),
	}
	if reg := opts.MetricsReg; reg != nil {
		for _, col := range []prometheus.Collector{c.lookupTotal, c.oversizeTotal} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultExpired = "expired"
	resultCorrupt = "corrupt"
)

// Get returns the cached value of (qt, params...).
// ok is false on a miss, and on a stale or corrupt entry, which is
// deleted as a side effect.
func Get[T any](c *Cache, qt location.QueryType, params ...string) (v T, ok bool) {
	key := location.Key(qt, params...)

	c.mu.Lock()
	defer c.mu.Unlock()

	raw, found := c.opts.Backend.Get(key)
	if !found {
		c.lookupTotal.WithLabelValues(string(qt), resultMiss).Inc()
		return v, false
	}

	var e Entry[T]
	if err := json.Unmarshal(raw, &e); err != nil || e.TTLMinutes <= 0 {
		if err == nil {
			err = errors.New("entry has no ttl")
		}
		c.opts.Logger.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		c.opts.Backend.Del(key)
		c.lookupTotal.WithLabelValues(string(qt), resultCorrupt).Inc()
		return v, false
	}

	if now := c.opts.Now(); !e.Fresh(now) {
		c.opts.Logger.Debug("stale cache entry dropped",
			zap.String("key", key),
			zap.Time("expired_at", e.ExpiresAt()))
		c.opts.Backend.Del(key)
		c.lookupTotal.WithLabelValues(string(qt), resultExpired).Inc()
		return v, false
	}

	c.lookupTotal.WithLabelValues(string(qt), resultHit).Inc()
	return e.Data, true
}

// Set caches data as the result of (qt, params...) for qt.TTL().
// The write is skipped if the encoded entry is larger than MaxEntrySize.
func Set[T any](c *Cache, qt location.QueryType, data T, params ...string) {
	ttl := qt.TTL()
	if ttl <= 0 {
		c.opts.Logger.Warn("invalid query type, entry not cached", zap.String("type", string(qt)))
		return
	}
	key := location.Key(qt, params...)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	e := Entry[T]{
		Data:       data,
		Timestamp:  now.UnixMilli(),
		TTLMinutes: int(ttl / time.Minute),
	}

	buf := pool.GetBuffer()
	defer pool.ReleaseBuffer(buf)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&e); err != nil {
		c.opts.Logger.Warn("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	b := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	if len(b) > c.opts.MaxEntrySize {
		c.opts.Logger.Debug("cache entry too large, skipped",
			zap.String("key", key),
			zap.Int("size", len(b)),
			zap.Int("max", c.opts.MaxEntrySize))
		c.oversizeTotal.WithLabelValues(string(qt)).Inc()
		return
	}

	c.opts.Backend.Store(key, b, e.ExpiresAt().UnixNano())
}

// Clear removes every entry of qt. An empty qt removes every location entry.
func (c *Cache) Clear(qt location.QueryType) (removed int) {
	prefix := location.KeyPrefix
	if qt != "" {
		prefix = qt.Prefix()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.opts.Backend.Keys(prefix) {
		c.opts.Backend.Del(key)
		removed++
	}
	c.opts.Logger.Info("location cache cleared", zap.String("prefix", prefix), zap.Int("removed", removed))
	return removed
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Total:     len(c.opts.Backend.Keys(location.KeyPrefix)),
		Countries: len(c.opts.Backend.Keys(location.Countries.Prefix())),
		States:    len(c.opts.Backend.Keys(location.States.Prefix())),
		Cities:    len(c.opts.Backend.Keys(location.Cities.Prefix())),
	}
}
