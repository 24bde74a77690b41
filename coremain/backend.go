package coremain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pmkol/locres/pkg/cache"
	"github.com/pmkol/locres/pkg/cache/cookie_cache"
	"github.com/pmkol/locres/pkg/cache/mem_cache"
	"github.com/pmkol/locres/pkg/cache/redis_cache"
	"github.com/pmkol/locres/pkg/safe_close"
	"github.com/pmkol/locres/pkg/utils"
)

const (
	defaultCacheSize       = 1024
	defaultCleanerInterval = 60
	defaultDumpInterval    = 600
)

func newBackend(cfg *CacheConfig, lg *zap.Logger) (cache.Backend, error) {
	switch cfg.Backend {
	case "", backendMemory:
		utils.SetDefaultNum(&cfg.Size, defaultCacheSize)
		utils.SetDefaultNum(&cfg.CleanerInterval, defaultCleanerInterval)
		return mem_cache.NewMemCache(cfg.Size, time.Duration(cfg.CleanerInterval)*time.Second), nil
	case backendRedis:
		opt, err := redis.ParseURL(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url, %w", err)
		}
		opt.MaxRetries = -1
		c := redis.NewClient(opt)
		rc, err := redis_cache.NewRedisCache(redis_cache.RedisCacheOpts{
			Client:        c,
			ClientCloser:  c,
			ClientTimeout: time.Duration(cfg.RedisTimeout) * time.Millisecond,
			Logger:        lg,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		return rc, nil
	case backendCookie:
		cc, err := cookie_cache.NewCookieCache(cookie_cache.CookieCacheOpts{
			Origin: cfg.CookieOrigin,
			Logger: lg,
		})
		if err != nil {
			return nil, err
		}
		return cc, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// loadDump restores c from file. A missing file is not an error.
func loadDump(c *mem_cache.MemCache, file string) (int, error) {
	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	return c.Load(f)
}

// writeDump writes c to a temp file next to file and renames it.
func writeDump(c *mem_cache.MemCache, file string) (int, error) {
	f, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".tmp*")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	n, err := c.Dump(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// startDumpLoop dumps c every interval and once more on close.
func startDumpLoop(sc *safe_close.SafeClose, c *mem_cache.MemCache, file string, interval time.Duration, lg *zap.Logger) {
	dump := func() {
		start := time.Now()
		n, err := writeDump(c, file)
		if err != nil {
			lg.Error("failed to dump cache", zap.String("file", file), zap.Error(err))
			return
		}
		lg.Info("cache dumped", zap.String("file", file), zap.Int("keys", n), zap.Duration("elapsed", time.Since(start)))
	}

	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				dump()
			case <-closeSignal:
				dump()
				return
			}
		}
	})
}
