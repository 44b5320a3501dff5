package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// holdSlot occupies one slot until the returned release func is called.
func holdSlot(t *testing.T, b *Bulkhead) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Execute(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	return func() {
		close(release)
		<-done
	}
}

func TestBulkhead_AllowsRequestsWithinLimit(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "test", MaxConcurrent: 3})

	var callCount int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func() error {
				atomic.AddInt32(&callCount, 1)
				time.Sleep(10 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}
	wg.Wait()

	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestBulkhead_WaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "test", MaxConcurrent: 1, MaxWait: time.Second})

	started := make(chan struct{})
	go func() {
		b.Execute(context.Background(), func() error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	}()
	<-started

	start := time.Now()
	if err := b.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("expected some wait time, got %v", elapsed)
	}
}

func TestBulkhead_TimesOutWaiting(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "test", MaxConcurrent: 1, MaxWait: 10 * time.Millisecond})
	release := holdSlot(t, b)
	defer release()

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("expected ErrBulkheadTimeout, got %v", err)
	}
}

func TestBulkhead_ZeroWaitBlocksUntilContextDone(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "test", MaxConcurrent: 1})
	release := holdSlot(t, b)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Execute(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestBulkhead_GoAppliesBackpressure(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "pool", MaxConcurrent: 2})

	gate := make(chan struct{})
	for i := 0; i < 2; i++ {
		if err := b.Go(context.Background(), func() { <-gate }); err != nil {
			t.Fatalf("Go failed: %v", err)
		}
	}
	if b.InUse() != 2 {
		t.Fatalf("expected 2 in use, got %d", b.InUse())
	}

	submitted := make(chan error, 1)
	go func() {
		submitted <- b.Go(context.Background(), func() {})
	}()

	select {
	case err := <-submitted:
		t.Fatalf("expected third Go to block, returned %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-submitted:
		if err != nil {
			t.Errorf("expected third Go to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("third Go never unblocked")
	}

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if b.InUse() != 0 {
		t.Errorf("expected all slots free after Close, got %d", b.InUse())
	}
	if err := b.Go(context.Background(), func() {}); !errors.Is(err, ErrBulkheadClosed) {
		t.Errorf("expected ErrBulkheadClosed, got %v", err)
	}
}

func TestBulkhead_CloseRespectsContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "pool", MaxConcurrent: 1})
	gate := make(chan struct{})
	defer close(gate)
	if err := b.Go(context.Background(), func() { <-gate }); err != nil {
		t.Fatalf("Go failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestBulkhead_OnReject(t *testing.T) {
	var rejected int32

	b := NewBulkhead(BulkheadConfig{
		Name:          "test",
		MaxConcurrent: 1,
		MaxWait:       10 * time.Millisecond,
		OnReject:      func(string) { atomic.AddInt32(&rejected, 1) },
	})

	release := holdSlot(t, b)
	err := b.Execute(context.Background(), func() error { return nil })
	release()

	if !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("expected ErrBulkheadTimeout, got %v", err)
	}
	if got := atomic.LoadInt32(&rejected); got != 1 {
		t.Errorf("expected 1 reject callback, got %d", got)
	}
	if err := b.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("a free slot must be granted, got %v", err)
	}
	if got := atomic.LoadInt32(&rejected); got != 1 {
		t.Errorf("reject callback fired for a granted slot, %d total", got)
	}
}

func TestBulkhead_InUse(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "test", MaxConcurrent: 3})
	if b.InUse() != 0 {
		t.Fatalf("unexpected initial state: inUse=%d", b.InUse())
	}

	release := holdSlot(t, b)
	if b.InUse() != 1 {
		t.Errorf("expected 1 in use, got %d", b.InUse())
	}
	release()
	if b.InUse() != 0 {
		t.Errorf("expected 0 in use after release, got %d", b.InUse())
	}
	if b.MaxConcurrent() != 3 {
		t.Errorf("expected max 3, got %d", b.MaxConcurrent())
	}
}

func TestExecuteWithResult(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "test", MaxConcurrent: 2})
	result, err := ExecuteWithResult(b, context.Background(), func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
}
