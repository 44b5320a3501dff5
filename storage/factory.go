package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/filestore/errors"
	"github.com/kbukum/filestore/logger"
)

// BackendFactory builds a Backend from provider-specific configuration. Each
// provider type-asserts providerCfg to its own config type.
type BackendFactory func(ctx context.Context, providerCfg any, log *logger.Logger) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]BackendFactory)
)

// notImplemented names providers that are recognized but have no adapter.
var notImplemented = map[string]bool{
	ProviderAliyun:   true,
	ProviderTencent:  true,
	ProviderSupabase: true,
}

// RegisterFactory registers a backend factory for the given provider name.
// Adapter packages call this from init, so importing the package (e.g.
// _ "github.com/kbukum/filestore/storage/minio") makes the provider available.
func RegisterFactory(name string, f BackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Registered returns the sorted names of registered providers.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend selects and opens the backend named by cfg.Provider. A provider
// with no registered adapter fails with BACKEND_NOT_IMPLEMENTED.
func NewBackend(ctx context.Context, cfg Config, providerCfg any, log *logger.Logger) (Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	l := log.WithComponent("storage")

	if notImplemented[cfg.Provider] {
		return nil, errors.BackendNotImplemented(cfg.Provider)
	}
	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.BackendNotImplemented(cfg.Provider).
			WithDetail("registered", Registered())
	}

	l.Info("initializing storage backend", logger.Fields(logger.FieldBackend, cfg.Provider))
	b, err := f(ctx, providerCfg, l)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s backend: %w", cfg.Provider, err)
	}
	return b, nil
}

// New opens the configured backend and returns a ready Service.
func New(ctx context.Context, cfg Config, providerCfg any, log *logger.Logger, opts ...Option) (*Service, error) {
	cfg.ApplyDefaults()
	b, err := NewBackend(ctx, cfg, providerCfg, log)
	if err != nil {
		return nil, err
	}
	return NewService(b, cfg, log, opts...), nil
}
