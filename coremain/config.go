package coremain

import (
	"github.com/pmkol/locres/mlog"
)

type Config struct {
	Log     mlog.LogConfig `yaml:"log"`
	Cache   CacheConfig    `yaml:"cache"`
	Sources SourcesConfig  `yaml:"sources"`
	Server  ServerConfig   `yaml:"server"`
	API     APIConfig      `yaml:"api"`
}

const (
	backendMemory = "memory"
	backendRedis  = "redis"
	backendCookie = "cookie"
)

type CacheConfig struct {
	// Backend is one of "memory" (default), "redis" or "cookie".
	Backend string `yaml:"backend"`

	// MaxEntrySize in bytes. Larger entries are not cached.
	MaxEntrySize int `yaml:"max_entry_size"`

	// Memory backend.
	Size            int    `yaml:"size"`
	CleanerInterval int    `yaml:"cleaner_interval"` // in seconds
	DumpFile        string `yaml:"dump_file"`
	DumpInterval    int    `yaml:"dump_interval"` // in seconds

	// Redis backend. Redis is a redis:// url.
	Redis        string `yaml:"redis"`
	RedisTimeout int    `yaml:"redis_timeout"` // in milliseconds

	// Cookie backend.
	CookieOrigin string `yaml:"cookie_origin"`
}

type SourcesConfig struct {
	// Primary is the base url of the public geography api.
	Primary string `yaml:"primary"`

	// Fallback is the url of the internal location endpoint. Optional.
	Fallback string `yaml:"fallback"`

	Timeout   int    `yaml:"timeout"` // per source call, in seconds
	UserAgent string `yaml:"user_agent"`
}

type ServerConfig struct {
	// Listen is the address of the location api. Empty disables it.
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	CachePath   string `yaml:"cache_path"`
	SrcIPHeader string `yaml:"src_ip_header"`
	IdleTimeout int    `yaml:"idle_timeout"` // in seconds

	// ShutdownTimeout bounds the drain of in-flight requests on exit.
	ShutdownTimeout int `yaml:"shutdown_timeout"` // in seconds
}

type APIConfig struct {
	// HTTP is the address of the metrics, debug and location api mux.
	HTTP string `yaml:"http"`
}
