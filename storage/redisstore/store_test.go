package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/filestore/component"
	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/storage"
	"github.com/kbukum/filestore/storage/storagetest"
)

// newTestStore creates a Store backed by miniredis.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	store, err := Open(Config{Addr: mini.Addr(), KeyPrefix: "test"}, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mini
}

func newSession(id string) *storage.Session {
	now := time.Now()
	return &storage.Session{
		ID:          id,
		ObjectID:    "obj-" + id + ".bin",
		FileName:    "file.bin",
		ContentType: "application/octet-stream",
		UploadID:    "up-" + id,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		State:       storage.StateOpen,
		Parts:       map[int]storage.Part{},
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing addr to fail")
	}
	cfg.Addr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	cfg.TTLGrace = "soon"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ttl_grace") {
		t.Errorf("expected ttl_grace error, got %v", err)
	}
}

func TestStore_CreateGet(t *testing.T) {
	store, mini := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, newSession("s1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, newSession("s1")); !errors.Is(err, storage.ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ObjectID != "obj-s1.bin" || got.State != storage.StateOpen || got.Parts == nil {
		t.Errorf("unexpected session: %+v", got)
	}

	ttl := mini.TTL("test:meta:s1")
	if ttl <= time.Hour || ttl > 2*time.Hour+time.Minute {
		t.Errorf("meta TTL = %v, want expiry plus grace", ttl)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_PutPart(t *testing.T) {
	store, mini := newTestStore(t)
	ctx := context.Background()
	_ = store.Create(ctx, newSession("s1"))

	if err := store.PutPart(ctx, "s1", storage.Part{Number: 2, ETag: "b", Size: 3}); err != nil {
		t.Fatalf("PutPart: %v", err)
	}
	if err := store.PutPart(ctx, "s1", storage.Part{Number: 2, ETag: "b2", Size: 4}); err != nil {
		t.Fatalf("PutPart overwrite: %v", err)
	}
	got, _ := store.Get(ctx, "s1")
	if len(got.Parts) != 1 || got.Parts[2].ETag != "b2" || got.Parts[2].Size != 4 {
		t.Errorf("parts = %+v", got.Parts)
	}
	if mini.TTL("test:parts:s1") <= 0 {
		t.Error("parts hash should carry a TTL")
	}

	if err := store.PutPart(ctx, "missing", storage.Part{Number: 1}); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_Transition(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Create(ctx, newSession("s1"))
	_ = store.PutPart(ctx, "s1", storage.Part{Number: 1, ETag: "a"})

	rejected := fmt.Errorf("rejected")
	_, err := store.Transition(ctx, "s1", storage.StateOpen, storage.StateCompleting, func(*storage.Session) error { return rejected })
	if !errors.Is(err, rejected) {
		t.Fatalf("expected check error, got %v", err)
	}
	if got, _ := store.Get(ctx, "s1"); got.State != storage.StateOpen {
		t.Errorf("failed check must leave state unchanged, got %s", got.State)
	}

	var seen int
	out, err := store.Transition(ctx, "s1", storage.StateOpen, storage.StateCompleting, func(s *storage.Session) error {
		seen = len(s.Parts)
		return nil
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if seen != 1 || out.State != storage.StateCompleting || out.Parts[1].ETag != "a" {
		t.Errorf("unexpected transition result: seen=%d %+v", seen, out)
	}

	if err := store.PutPart(ctx, "s1", storage.Part{Number: 2}); !errors.Is(err, storage.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict on a completing session, got %v", err)
	}
	if _, err := store.Transition(ctx, "s1", storage.StateOpen, storage.StateAborted, nil); !errors.Is(err, storage.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict, got %v", err)
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = store.Create(ctx, newSession(fmt.Sprintf("s%d", i)))
	}
	_ = store.PutPart(ctx, "s1", storage.Part{Number: 1, ETag: "a"})

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Errorf("Delete should be idempotent, got %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ids := map[string]bool{}
	for _, s := range list {
		ids[s.ID] = true
	}
	if len(list) != 2 || !ids["s0"] || !ids["s2"] {
		t.Errorf("List = %v", ids)
	}
}

func TestStore_ConcurrentParts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Create(ctx, newSession("s1"))

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			errs <- store.PutPart(ctx, "s1", storage.Part{Number: num, ETag: fmt.Sprintf("e%d", num)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("PutPart: %v", err)
		}
	}

	got, _ := store.Get(ctx, "s1")
	if len(got.Parts) != n {
		t.Errorf("recorded %d parts, want %d", len(got.Parts), n)
	}
}

func TestStore_ServiceRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	backend := storagetest.NewBackend()
	svc := storage.NewService(backend, storage.Config{Provider: "memory"}, logger.Nop(), storage.WithSessionStore(store))
	ctx := context.Background()

	id, err := svc.InitiateMultipartUpload(ctx, storage.MultipartInput{FileName: "a.txt"})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	etag, err := svc.UploadPart(ctx, id, 1, strings.NewReader("hello"), 5)
	if err != nil {
		t.Fatalf("UploadPart: %v", err)
	}
	objectID, err := svc.CompleteMultipartUpload(ctx, id, map[int]string{1: etag})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if data, ok := backend.Object(objectID); !ok || string(data) != "hello" {
		t.Errorf("object = %q, %v", data, ok)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("completed session should be removed, got %v", err)
	}
}

func TestComponent_Health(t *testing.T) {
	store, mini := newTestStore(t)
	comp := NewComponent(store, Config{Addr: mini.Addr()}, logger.Nop())
	ctx := context.Background()

	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h := comp.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("Health = %q", h.Status)
	}
	if d := comp.Describe(); !strings.Contains(d.Details, mini.Addr()) {
		t.Errorf("Describe = %q", d.Details)
	}

	mini.Close()
	if h := comp.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("Health after server loss = %q", h.Status)
	}
}
