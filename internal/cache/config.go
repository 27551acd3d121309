// Package cache holds the context cache configuration and the metadata that
// tracks a cached-content resource across LLM requests.
package cache

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultCacheIntervals is how many invocations may reuse one cache.
	DefaultCacheIntervals = 10
	// DefaultTTL is the lifetime requested for new caches.
	DefaultTTL = 30 * time.Minute
	// DefaultMinTokens disables the size threshold.
	DefaultMinTokens = 0

	minCacheIntervals = 1
	maxCacheIntervals = 100
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid context cache config")

// Config controls when caches are created and how long they are reused.
type Config struct {
	// CacheIntervals is the maximum number of invocations a cache serves
	// before it is refreshed.
	CacheIntervals int `json:"cache_intervals" mapstructure:"cache_intervals" yaml:"cache_intervals"`
	// TTL is the server-side time to live of a created cache.
	TTL time.Duration `json:"ttl" mapstructure:"ttl" yaml:"ttl"`
	// MinTokens is the estimated request size below which no cache is created.
	MinTokens int `json:"min_tokens" mapstructure:"min_tokens" yaml:"min_tokens"`
}

// DefaultConfig returns the default caching configuration.
func DefaultConfig() Config {
	return Config{
		CacheIntervals: DefaultCacheIntervals,
		TTL:            DefaultTTL,
		MinTokens:      DefaultMinTokens,
	}
}

// Validate checks the configured bounds.
func (c Config) Validate() error {
	if c.CacheIntervals < minCacheIntervals {
		return fmt.Errorf("%w: cache_intervals must be greater than or equal to %d", ErrInvalidConfig, minCacheIntervals)
	}
	if c.CacheIntervals > maxCacheIntervals {
		return fmt.Errorf("%w: cache_intervals must be less than or equal to %d", ErrInvalidConfig, maxCacheIntervals)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be greater than 0", ErrInvalidConfig)
	}
	if c.MinTokens < 0 {
		return fmt.Errorf("%w: min_tokens must be greater than or equal to 0", ErrInvalidConfig)
	}
	return nil
}

// TTLString renders the TTL the way the caching API expects it, e.g. "1800s".
func (c Config) TTLString() string {
	return fmt.Sprintf("%ds", int64(c.TTL/time.Second))
}

func (c Config) String() string {
	return fmt.Sprintf("ContextCacheConfig(cache_intervals=%d, ttl=%s, min_tokens=%d)",
		c.CacheIntervals, c.TTLString(), c.MinTokens)
}
