package storage

import (
	"fmt"
	"time"

	"github.com/kbukum/filestore/validation"
)

// Provider names accepted by the backend selector.
const (
	ProviderS3       = "s3"
	ProviderMinIO    = "minio"
	ProviderLocal    = "local"
	ProviderAliyun   = "aliyun"
	ProviderTencent  = "tencent"
	ProviderSupabase = "supabase"
)

// Session store kinds.
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Default configuration values.
const (
	DefaultProvider      = ProviderLocal
	DefaultMaxFileSize   = int64(100 * 1024 * 1024) // 100 MiB
	DefaultSessionTTL    = 24 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxPartNumber = 10000
	DefaultAsyncWorkers  = 8
	DefaultSessionStore  = SessionStoreMemory

	// S3MinPartSize is the S3 protocol minimum for non-final parts.
	S3MinPartSize = int64(5 * 1024 * 1024)
	// S3MaxPresignExpiry is the longest lifetime SigV4 accepts for a
	// presigned URL.
	S3MaxPresignExpiry = 7 * 24 * time.Hour
)

// Config holds storage configuration.
type Config struct {
	// Provider selects the backend adapter.
	Provider string `mapstructure:"provider" json:"provider" validate:"required"`

	// Enabled controls whether the storage component is active.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// MaxFileSize caps upload sizes in bytes. Negative disables the check.
	MaxFileSize int64 `mapstructure:"max_file_size" json:"max_file_size"`

	Multipart MultipartConfig `mapstructure:"multipart" json:"multipart"`
	Async     AsyncConfig     `mapstructure:"async" json:"async"`
	Sessions  SessionsConfig  `mapstructure:"sessions" json:"sessions"`
}

// MultipartConfig controls chunked upload sessions.
type MultipartConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl" json:"session_ttl" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval" validate:"gt=0"`
	// MinPartSize is the minimum size of every part but the last. 0 uses the
	// backend's own minimum, if it declares one.
	MinPartSize   int64 `mapstructure:"min_part_size" json:"min_part_size" validate:"gte=0"`
	MaxPartNumber int   `mapstructure:"max_part_number" json:"max_part_number" validate:"min=1,max=10000"`
}

// AsyncConfig sizes the asynchronous upload pool.
type AsyncConfig struct {
	Workers int `mapstructure:"workers" json:"workers" validate:"min=1"`
	// AcquireTimeout bounds how long a caller waits for a free worker.
	// 0 waits until the caller's context is done.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" json:"acquire_timeout" validate:"gte=0"`
}

// SessionsConfig selects where upload sessions live.
type SessionsConfig struct {
	Store string `mapstructure:"store" json:"store" validate:"oneof=memory redis"`
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	c.Multipart.ApplyDefaults()
	if c.Async.Workers <= 0 {
		c.Async.Workers = DefaultAsyncWorkers
	}
	if c.Sessions.Store == "" {
		c.Sessions.Store = DefaultSessionStore
	}
}

// Validate checks field constraints. Provider names are resolved later by
// the backend selector so unknown names surface as BACKEND_NOT_IMPLEMENTED.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("storage: invalid config: %w", err)
	}
	return nil
}

// BucketDescriber is optionally implemented by provider configs that use a bucket.
type BucketDescriber interface {
	GetBucket() string
}

// ApplyDefaults fills in a non-positive TTL, sweep interval or part limit.
func (m *MultipartConfig) ApplyDefaults() {
	if m.SessionTTL <= 0 {
		m.SessionTTL = DefaultSessionTTL
	}
	if m.SweepInterval <= 0 {
		m.SweepInterval = DefaultSweepInterval
	}
	if m.MaxPartNumber <= 0 {
		m.MaxPartNumber = DefaultMaxPartNumber
	}
}

// MinPartSizer is optionally implemented by backends whose provider rejects
// small non-final multipart parts.
type MinPartSizer interface {
	MinPartSize() int64
}

// PresignLimiter is optionally implemented by backends that cap the lifetime
// of a presigned URL.
type PresignLimiter interface {
	MaxPresignExpiry() time.Duration
}
