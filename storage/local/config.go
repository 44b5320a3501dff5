package local

import (
	"errors"
	"fmt"
	"net/url"
)

const (
	// DefaultBasePath is the default root directory for local storage.
	DefaultBasePath = "/tmp/storage"

	// DefaultBucket names the top-level directory objects are stored under.
	DefaultBucket = "files"

	// DefaultPublicBaseURL prefixes signed access URLs.
	DefaultPublicBaseURL = "http://localhost:8080/files"
)

// Config holds local filesystem storage configuration.
type Config struct {
	// BasePath is the root directory for local storage.
	BasePath string `mapstructure:"base_path" json:"base_path"`

	// Bucket is the directory under BasePath holding this store's objects.
	Bucket string `mapstructure:"bucket" json:"bucket"`

	// PublicBaseURL is the externally reachable prefix that serves objects.
	PublicBaseURL string `mapstructure:"public_base_url" json:"public_base_url"`

	// SigningSecret keys the access-URL tokens. Never logged.
	SigningSecret string `mapstructure:"signing_secret" json:"-"`
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = DefaultPublicBaseURL
	}
}

// Validate checks that the local configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.BasePath == "" {
		errs = append(errs, errors.New("base_path is required"))
	}
	if c.Bucket == "" || !validKey(c.Bucket) {
		errs = append(errs, fmt.Errorf("bucket %q must be a single path element", c.Bucket))
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("public_base_url %q must be an absolute URL", c.PublicBaseURL))
	}
	if len(c.SigningSecret) < 16 {
		errs = append(errs, errors.New("signing_secret must be at least 16 bytes"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("local: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// GetBucket returns the bucket name.
func (c *Config) GetBucket() string { return c.Bucket }
