package main

import (
	"fmt"

	"github.com/kbukum/filestore/config"
	"github.com/kbukum/filestore/observability"
	"github.com/kbukum/filestore/storage"
	"github.com/kbukum/filestore/storage/local"
	"github.com/kbukum/filestore/storage/minio"
	"github.com/kbukum/filestore/storage/redisstore"
	"github.com/kbukum/filestore/storage/s3"
	"github.com/kbukum/filestore/version"
)

// AppConfig is the full configuration of the filestore binary.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Storage       storage.Config       `yaml:"storage" mapstructure:"storage"`
	S3            s3.Config            `yaml:"s3" mapstructure:"s3"`
	MinIO         minio.Config         `yaml:"minio" mapstructure:"minio"`
	Local         local.Config         `yaml:"local" mapstructure:"local"`
	Redis         redisstore.Config    `yaml:"redis" mapstructure:"redis"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults fills defaults for every section.
func (c *AppConfig) ApplyDefaults() {
	if c.Version == "" {
		c.Version = version.Get().String()
	}
	c.ServiceConfig.ApplyDefaults()
	c.Storage.ApplyDefaults()
	c.Redis.ApplyDefaults()
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = c.Name
	}
	if c.Observability.ServiceVersion == "" {
		c.Observability.ServiceVersion = c.Version
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Environment
	}
	c.Observability.ApplyDefaults()
}

// Validate checks the sections in use. Backend sections are validated by
// their adapters when the storage component starts.
func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Storage.Sessions.Store == storage.SessionStoreRedis {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return c.Observability.Validate()
}

// providerConfig returns the backend section matching storage.provider.
func (c *AppConfig) providerConfig() any {
	switch c.Storage.Provider {
	case storage.ProviderS3:
		return &c.S3
	case storage.ProviderMinIO:
		return &c.MinIO
	case storage.ProviderLocal:
		return &c.Local
	default:
		return nil
	}
}
