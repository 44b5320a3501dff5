package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/observability"
	"github.com/kbukum/filestore/resilience"
)

// ErrFutureCancelled is returned by Future.Wait after Cancel.
var ErrFutureCancelled = stderrors.New("storage: upload future cancelled")

// Future is the pending result of an asynchronous upload.
type Future struct {
	done     chan struct{}
	once     sync.Once
	objectID string
	err      error

	mu        sync.Mutex
	cancelled bool
}

// NewFuture returns an unresolved future. Implementations of AsyncStorage
// resolve it with Resolve.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve sets the outcome. Only the first call has an effect.
func (f *Future) Resolve(objectID string, err error) {
	f.once.Do(func() {
		f.objectID = objectID
		f.err = err
		close(f.done)
	})
}

// Done is closed once the upload has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the upload finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (string, error) {
	if f.isCancelled() {
		return "", ErrFutureCancelled
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if f.isCancelled() {
		return "", ErrFutureCancelled
	}
	return f.objectID, f.err
}

// Cancel stops the caller from observing the result. The write itself is
// not interrupted. It reports false if the upload had already finished or
// the future was already cancelled.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return false
	}
	select {
	case <-f.done:
		return false
	default:
	}
	f.cancelled = true
	return true
}

func (f *Future) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// AsyncUploader adds a bounded, non-blocking upload path to any Storage.
// All other operations go straight to the wrapped Storage.
type AsyncUploader struct {
	Storage

	pool    *resilience.Bulkhead
	log     *logger.Logger
	metrics *observability.StorageMetrics
}

// NewAsyncUploader wraps s with a pool of cfg.Workers upload workers.
func NewAsyncUploader(s Storage, cfg AsyncConfig, log *logger.Logger, metrics *observability.StorageMetrics) *AsyncUploader {
	if log == nil {
		log = logger.Nop()
	}
	l := log.WithComponent("storage.async")
	return &AsyncUploader{
		Storage: s,
		pool: resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "storage.async",
			MaxConcurrent: cfg.Workers,
			MaxWait:       cfg.AcquireTimeout,
			OnReject: func(name string) {
				l.Warn("async upload rejected", logger.Fields("pool", name))
			},
		}),
		log:     l,
		metrics: metrics,
	}
}

var _ AsyncStorage = (*AsyncUploader)(nil)

// UploadAsync schedules in on the worker pool. While every worker is busy the
// call blocks until one frees, ctx is done, or the acquire timeout elapses.
// The upload then runs detached from ctx's cancellation. in.Reader must not
// be used by the caller until the future resolves.
func (a *AsyncUploader) UploadAsync(ctx context.Context, in UploadInput) (*Future, error) {
	if native, ok := a.Storage.(AsyncStorage); ok {
		return native.UploadAsync(ctx, in)
	}

	f := NewFuture()
	detached := context.WithoutCancel(ctx)
	err := a.pool.Go(ctx, func() {
		a.metrics.AsyncStarted(detached)
		defer a.metrics.AsyncFinished(detached)
		f.Resolve(a.Storage.Upload(detached, in))
	})
	if err != nil {
		return nil, fmt.Errorf("storage: schedule async upload: %w", err)
	}
	return f, nil
}

// InFlight returns the number of uploads currently running.
func (a *AsyncUploader) InFlight() int { return a.pool.InUse() }

// Capacity returns the number of upload workers.
func (a *AsyncUploader) Capacity() int { return a.pool.MaxConcurrent() }

// Close stops accepting uploads and waits for running ones or ctx.
func (a *AsyncUploader) Close(ctx context.Context) error {
	return a.pool.Close(ctx)
}
