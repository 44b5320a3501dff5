package s3

import (
	"fmt"

	"github.com/kbukum/filestore/validation"
)

// DefaultRegion is the default AWS region.
const DefaultRegion = "us-east-1"

// Config holds S3-specific storage configuration. Credentials are passed to
// the SDK as-is and never logged.
type Config struct {
	// Bucket is the S3 bucket name. It is created at startup if absent.
	Bucket string `mapstructure:"bucket" json:"bucket" validate:"required"`

	// Region is the AWS region.
	Region string `mapstructure:"region" json:"region" validate:"required"`

	// Endpoint is a custom S3-compatible endpoint URL. Setting it implies
	// path-style addressing.
	Endpoint string `mapstructure:"endpoint" json:"endpoint" validate:"omitempty,url"`

	// AccessKey is the AWS access key ID. Empty uses the default credential chain.
	AccessKey string `mapstructure:"access_key" json:"-" validate:"required_with=SecretKey"`

	// SecretKey is the AWS secret access key.
	SecretKey string `mapstructure:"secret_key" json:"-" validate:"required_with=AccessKey"`

	// ForcePathStyle forces path-style URLs instead of virtual-hosted-style.
	ForcePathStyle bool `mapstructure:"force_path_style" json:"force_path_style"`
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
}

// Validate checks that the S3 configuration is valid. Credentials come as
// a pair or not at all.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("s3: invalid config: %w", err)
	}
	return nil
}

// GetBucket returns the bucket name.
func (c *Config) GetBucket() string { return c.Bucket }
