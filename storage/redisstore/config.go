package redisstore

import (
	"fmt"
	"time"

	"github.com/kbukum/filestore/validation"
)

// DefaultKeyPrefix namespaces session keys.
const DefaultKeyPrefix = "filestore:upload"

// Config holds the Redis connection and key layout for the session store.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`

	// Password is the Redis server password.
	Password string `mapstructure:"password" json:"-"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"gte=0"`

	// PoolSize is the maximum number of socket connections.
	PoolSize int `mapstructure:"pool_size" validate:"gt=0"`

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int `mapstructure:"min_idle_conns"`

	// MaxRetries is the maximum number of command retries before giving up.
	MaxRetries int `mapstructure:"max_retries"`

	// DialTimeout is the timeout for establishing new connections (e.g. "5s").
	DialTimeout string `mapstructure:"dial_timeout" validate:"duration"`

	// ReadTimeout is the timeout for socket reads (e.g. "3s").
	ReadTimeout string `mapstructure:"read_timeout" validate:"duration"`

	// WriteTimeout is the timeout for socket writes (e.g. "3s").
	WriteTimeout string `mapstructure:"write_timeout" validate:"duration"`

	// KeyPrefix is prepended to every key the store writes.
	KeyPrefix string `mapstructure:"key_prefix"`

	// TTLGrace keeps session keys alive this long past the session expiry so
	// the sweeper still sees them and can abort the native upload (e.g. "1h").
	TTLGrace string `mapstructure:"ttl_grace" validate:"duration"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns <= 0 {
		c.MinIdleConns = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DialTimeout == "" {
		c.DialTimeout = "5s"
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = "3s"
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "3s"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.TTLGrace == "" {
		c.TTLGrace = "1h"
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("redisstore: invalid config: %w", err)
	}
	return nil
}

func (c *Config) grace() time.Duration {
	d, _ := time.ParseDuration(c.TTLGrace)
	return d
}
