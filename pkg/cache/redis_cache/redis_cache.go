/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package redis_cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pmkol/locres/pkg/cache"
	"github.com/pmkol/locres/pkg/pool"
	"github.com/pmkol/locres/pkg/utils"
)

var nopLogger = zap.NewNop()

var _ cache.Backend = (*RedisCache)(nil)

type RedisCacheOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisCache.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is 1s.
	ClientTimeout time.Duration

	// ScanCount is the COUNT hint used by Keys.
	// Default is 256.
	ScanCount int64

	// Logger is the *zap.Logger for this RedisCache.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *RedisCacheOpts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	utils.SetDefaultNum(&opts.ClientTimeout, time.Second)
	utils.SetDefaultNum(&opts.ScanCount, 256)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type RedisCache struct {
	opts           RedisCacheOpts
	clientDisabled uint32
}

func NewRedisCache(opts RedisCacheOpts) (*RedisCache, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisCache{
		opts: opts,
	}, nil
}

func (r *RedisCache) disabled() bool {
	return atomic.LoadUint32(&r.clientDisabled) != 0
}

func (r *RedisCache) disableClient() {
	if atomic.CompareAndSwapUint32(&r.clientDisabled, 0, 1) {
		r.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				time.Sleep(backoff)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := r.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&r.clientDisabled, 0)
				r.opts.Logger.Info("redis re-enabled")
				return
			}
		}()
	}
}

func (r *RedisCache) Get(key string) (v []byte, ok bool) {
	if r.disabled() {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	b, err := r.opts.Client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.opts.Logger.Warn("redis get", zap.String("key", key), zap.Error(err))
			r.disableClient()
		}
		return nil, false
	}

	_, expire, v, err := unpackRedisValue(b)
	if err != nil {
		r.opts.Logger.Warn("redis data unpack error", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if time.Now().After(expire) {
		return nil, false
	}
	return v, true
}

// Store stores kv into redis. The redis key ttl follows expire.
func (r *RedisCache) Store(key string, v []byte, expire int64) {
	if r.disabled() {
		return
	}

	now := time.Now()
	ttl := time.Duration(expire - now.UnixNano())
	if ttl <= 0 {
		return
	}

	data := packRedisData(now, time.Unix(0, expire), v)
	defer pool.ReleaseBuffer(data)
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Set(ctx, key, data.Bytes(), ttl).Err(); err != nil {
		r.opts.Logger.Warn("redis set", zap.String("key", key), zap.Error(err))
		r.disableClient()
	}
}

func (r *RedisCache) Del(key string) {
	if r.disabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Del(ctx, key).Err(); err != nil {
		r.opts.Logger.Warn("redis del", zap.String("key", key), zap.Error(err))
		r.disableClient()
	}
}

// Keys walks the keyspace with SCAN. It returns what it has collected so
// far if the scan fails midway.
func (r *RedisCache) Keys(prefix string) []string {
	if r.disabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()

	var (
		keys   []string
		cursor uint64
	)
	match := escapeGlob(prefix) + "*"
	for {
		batch, next, err := r.opts.Client.Scan(ctx, cursor, match, r.opts.ScanCount).Result()
		if err != nil {
			r.opts.Logger.Warn("redis scan", zap.String("match", match), zap.Error(err))
			r.disableClient()
			return keys
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys
		}
		cursor = next
	}
}

// Close closes the redis client.
func (r *RedisCache) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

func (r *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	i, err := r.opts.Client.DBSize(ctx).Result()
	if err != nil {
		r.opts.Logger.Error("dbsize", zap.Error(err))
		return 0
	}
	return int(i)
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob escapes s for use in a redis MATCH pattern.
func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}

// packRedisData packs storedTime, expirationTime and v into one buffer.
// The returned buffer should be released by pool.ReleaseBuffer.
func packRedisData(storedTime, expirationTime time.Time, v []byte) *bytes.Buffer {
	buf := pool.GetBuffer()
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[:8], uint64(storedTime.UnixNano()))
	binary.BigEndian.PutUint64(hdr[8:], uint64(expirationTime.UnixNano()))
	buf.Write(hdr[:])
	buf.Write(v)
	return buf
}

func unpackRedisValue(b []byte) (storedTime, expirationTime time.Time, v []byte, err error) {
	if len(b) < 16 {
		return time.Time{}, time.Time{}, nil, errors.New("b is too short")
	}
	storedTime = time.Unix(0, int64(binary.BigEndian.Uint64(b[:8])))
	expirationTime = time.Unix(0, int64(binary.BigEndian.Uint64(b[8:16])))
	return storedTime, expirationTime, b[16:], nil
}
