package cache

import (
	"context"
	"time"
)

// Store is a byte-value cache with per-entry TTLs. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// RedisConfig holds connection details for the redis driver.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Config selects and tunes a cache driver.
type Config struct {
	Driver string
	// TTL is the default entry lifetime when the caller passes zero.
	TTL   time.Duration
	Redis *RedisConfig
}
