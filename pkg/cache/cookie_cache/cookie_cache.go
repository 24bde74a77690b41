package cookie_cache

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/pmkol/locres/pkg/cache"
)

const (
	defaultOrigin = "https://locres.local/"
	namePrefix    = "loc."
)

var (
	nopLogger = zap.NewNop()
	b64       = base64.RawURLEncoding
)

var _ cache.Backend = (*CookieCache)(nil)

type CookieCacheOpts struct {
	// Origin is the URL whose cookies hold the cache entries.
	// Default is "https://locres.local/".
	Origin string

	// Jar is an optional jar to share with an http.Client.
	// If nil, a new jar with the public suffix list is created.
	Jar http.CookieJar

	// Logger is the *zap.Logger for this CookieCache.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *CookieCacheOpts) Init() error {
	if len(opts.Origin) == 0 {
		opts.Origin = defaultOrigin
	}
	if opts.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return fmt.Errorf("failed to init cookie jar, %w", err)
		}
		opts.Jar = jar
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// CookieCache keeps entries as cookies of a single origin. Both names and
// values are base64url encoded so any key and payload survive the cookie
// syntax. Expiry is enforced by the jar.
type CookieCache struct {
	opts CookieCacheOpts
	u    *url.URL

	// http.CookieJar has no delete, so Del and Store must not interleave.
	mu sync.Mutex
}

func NewCookieCache(opts CookieCacheOpts) (*CookieCache, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	u, err := url.Parse(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin, %w", err)
	}
	if len(u.Host) == 0 {
		return nil, fmt.Errorf("origin %q has no host", opts.Origin)
	}
	return &CookieCache{opts: opts, u: u}, nil
}

func encodeName(key string) string {
	return namePrefix + b64.EncodeToString([]byte(key))
}

func decodeName(name string) (string, bool) {
	enc, ok := strings.CutPrefix(name, namePrefix)
	if !ok {
		return "", false
	}
	b, err := b64.DecodeString(enc)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (c *CookieCache) find(key string) *http.Cookie {
	name := encodeName(key)
	for _, ck := range c.opts.Jar.Cookies(c.u) {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func (c *CookieCache) Get(key string) (v []byte, ok bool) {
	c.mu.Lock()
	ck := c.find(key)
	c.mu.Unlock()
	if ck == nil {
		return nil, false
	}

	v, err := b64.DecodeString(ck.Value)
	if err != nil {
		c.opts.Logger.Warn("invalid cookie value", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return v, true
}

func (c *CookieCache) Store(key string, v []byte, expire int64) {
	exp := time.Unix(0, expire)
	if !exp.After(time.Now()) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Jar.SetCookies(c.u, []*http.Cookie{{
		Name:     encodeName(key),
		Value:    b64.EncodeToString(v),
		Path:     "/",
		Expires:  exp,
		SameSite: http.SameSiteLaxMode,
	}})
}

func (c *CookieCache) Del(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Jar.SetCookies(c.u, []*http.Cookie{{
		Name:   encodeName(key),
		Path:   "/",
		MaxAge: -1,
	}})
}

func (c *CookieCache) Keys(prefix string) []string {
	c.mu.Lock()
	cookies := c.opts.Jar.Cookies(c.u)
	c.mu.Unlock()

	var keys []string
	for _, ck := range cookies {
		if key, ok := decodeName(ck.Name); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *CookieCache) Len() int {
	return len(c.Keys(""))
}

func (c *CookieCache) Close() error {
	return nil
}
