package redisstore

import (
	"context"
	"fmt"

	"github.com/kbukum/filestore/component"
	"github.com/kbukum/filestore/logger"
)

// Component ties a Store's connection to the application lifecycle. The
// Store itself is usable before Start, so it can be handed to the storage
// service at construction time.
type Component struct {
	store *Store
	cfg   Config
	log   *logger.Logger
}

var _ component.Component = (*Component)(nil)

// NewComponent wraps store for use with the component registry.
func NewComponent(store *Store, cfg Config, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Component{store: store, cfg: cfg, log: log.WithComponent("redis")}
}

// Store returns the wrapped session store.
func (c *Component) Store() *Store { return c.store }

// Name returns the component name.
func (c *Component) Name() string { return "redis" }

// Start verifies connectivity.
func (c *Component) Start(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("redis start: %w", err)
	}
	c.log.Info("Redis session store connected", logger.Fields("addr", c.cfg.Addr))
	return nil
}

// Stop closes the connection pool.
func (c *Component) Stop(_ context.Context) error {
	c.log.Info("Redis component stopping")
	return c.store.Close()
}

// Health returns the current health status of the Redis connection.
func (c *Component) Health(ctx context.Context) component.Health {
	if err := c.store.Ping(ctx); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return component.Health{
		Name:   c.Name(),
		Status: component.StatusHealthy,
	}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Redis",
		Type:    "redis",
		Details: fmt.Sprintf("%s db=%d prefix=%s", c.cfg.Addr, c.cfg.DB, c.cfg.KeyPrefix),
	}
}
