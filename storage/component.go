package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/filestore/component"
	"github.com/kbukum/filestore/logger"
)

// Component runs a Service under the component registry: Start opens the
// backend and starts the expiry sweep, Stop ends the sweep and drains the
// async upload pool.
type Component struct {
	cfg         Config
	providerCfg any
	log         *logger.Logger
	opts        []Option

	mu          sync.RWMutex
	service     *Service
	async       *AsyncUploader
	stopSweep   context.CancelFunc
	sweepExited chan struct{}
}

// NewComponent creates a storage component for use with the component registry.
func NewComponent(cfg Config, providerCfg any, log *logger.Logger, opts ...Option) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Component{
		cfg:         cfg,
		providerCfg: providerCfg,
		log:         log,
		opts:        opts,
	}
}

// ensure Component satisfies component.Component.
var _ component.Component = (*Component)(nil)

// Service returns the running Service, or nil before Start.
func (c *Component) Service() *Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// Async returns the async uploader over the running Service, or nil before Start.
func (c *Component) Async() *AsyncUploader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.async
}

// Name returns the component name.
func (c *Component) Name() string { return "storage" }

// Start opens the backend and starts the session sweeper.
func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("storage component is disabled")
		return nil
	}

	svc, err := New(ctx, c.cfg, c.providerCfg, c.log, c.opts...)
	if err != nil {
		return fmt.Errorf("storage start: %w", err)
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		svc.Registry().Run(sweepCtx)
	}()

	c.mu.Lock()
	c.service = svc
	c.async = NewAsyncUploader(svc, c.cfg.Async, c.log, svc.metrics)
	c.stopSweep = cancel
	c.sweepExited = exited
	c.mu.Unlock()
	return nil
}

// Stop halts the sweeper and waits for in-flight async uploads.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	async, cancel, exited := c.async, c.stopSweep, c.sweepExited
	c.service, c.async, c.stopSweep, c.sweepExited = nil, nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-exited
	if err := async.Close(ctx); err != nil {
		return fmt.Errorf("storage stop: drain async uploads: %w", err)
	}
	return nil
}

// Health pings the backend.
func (c *Component) Health(ctx context.Context) component.Health {
	if !c.cfg.Enabled {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusHealthy,
			Message: "disabled",
		}
	}

	svc := c.Service()
	if svc == nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "storage not initialized",
		}
	}

	if err := svc.Ping(ctx); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: fmt.Sprintf("backend ping failed: %v", err),
		}
	}

	h := component.Health{
		Name:   c.Name(),
		Status: component.StatusHealthy,
	}
	if async := c.Async(); async != nil {
		h.Message = fmt.Sprintf("async uploads in flight: %d/%d", async.InFlight(), async.Capacity())
	}
	return h
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	details := fmt.Sprintf("provider=%s sessions=%s", c.cfg.Provider, c.cfg.Sessions.Store)
	if bp, ok := c.providerCfg.(BucketDescriber); ok {
		if b := bp.GetBucket(); b != "" {
			details += fmt.Sprintf(" bucket=%s", b)
		}
	}
	return component.Description{
		Name:    "Storage",
		Type:    "storage",
		Details: details,
	}
}
