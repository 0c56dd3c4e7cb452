package config

import "time"

// CacheConfig configures the Redis response cache on public draw reads.
// Caching is off when Enabled is false, TTL is zero or Redis is unavailable.
type CacheConfig struct {
	Enabled      bool          `envconfig:"CACHE_ENABLED" default:"true"`
	TTL          time.Duration `envconfig:"CACHE_TTL" default:"2s"`
	Prefix       string        `envconfig:"CACHE_PREFIX" default:"cache"`
	MaxBodyBytes int           `envconfig:"CACHE_MAX_BODY_BYTES" default:"65536"`
}
