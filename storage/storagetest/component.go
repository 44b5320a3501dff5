package storagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/filestore/component"
	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/storage"
	"github.com/kbukum/filestore/testutil"
)

// Component is a test storage component: a storage.Service over an in-memory
// Backend and session store.
type Component struct {
	cfg  storage.Config
	opts []storage.Option

	mu      sync.RWMutex
	backend *Backend
	service *storage.Service
	started bool
}

var _ component.Component = (*Component)(nil)
var _ testutil.TestComponent = (*Component)(nil)

// NewComponent creates a test component. opts are passed to the Service.
func NewComponent(opts ...storage.Option) *Component {
	cfg := storage.Config{Provider: "memory", Enabled: true}
	cfg.ApplyDefaults()
	return &Component{cfg: cfg, opts: opts}
}

// WithConfig replaces the storage config used on the next Start.
func (c *Component) WithConfig(cfg storage.Config) *Component {
	cfg.ApplyDefaults()
	c.cfg = cfg
	return c
}

// Service returns the running service, or nil before Start.
func (c *Component) Service() *storage.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// Backend returns the in-memory backend, or nil before Start.
func (c *Component) Backend() *Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// --- component.Component ---

func (c *Component) Name() string { return "storage-test" }

func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("component already started")
	}
	c.backend = NewBackend()
	c.service = storage.NewService(c.backend, c.cfg, logger.Nop(), c.opts...)
	c.started = true
	return nil
}

func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = nil
	c.service = nil
	c.started = false
	return nil
}

func (c *Component) Health(ctx context.Context) component.Health {
	svc := c.Service()
	if svc == nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "not started"}
	}
	if err := svc.Ping(ctx); err != nil {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: err.Error()}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// --- testutil.TestComponent ---

// Reset drops all objects, uploads and faults.
func (c *Component) Reset(_ context.Context) error {
	b := c.Backend()
	if b == nil {
		return fmt.Errorf("component not started")
	}
	b.reset()
	return nil
}

// Snapshot captures the stored objects. Upload sessions are not included.
func (c *Component) Snapshot(_ context.Context) (interface{}, error) {
	b := c.Backend()
	if b == nil {
		return nil, fmt.Errorf("component not started")
	}
	return b.snapshot(), nil
}

func (c *Component) Restore(_ context.Context, snap interface{}) error {
	b := c.Backend()
	if b == nil {
		return fmt.Errorf("component not started")
	}
	objects, ok := snap.(map[string]*memObject)
	if !ok {
		return fmt.Errorf("invalid snapshot type: expected map[string]*memObject, got %T", snap)
	}
	b.restore(objects)
	return nil
}
