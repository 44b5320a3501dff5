package storagetest

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/kbukum/filestore/component"
	"github.com/kbukum/filestore/errors"
	"github.com/kbukum/filestore/storage"
	"github.com/kbukum/filestore/testutil"
)

func TestComponent_Lifecycle(t *testing.T) {
	comp := NewComponent()
	ctx := context.Background()

	if comp.Service() != nil {
		t.Error("Service() should be nil before Start")
	}
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := comp.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if h := comp.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("Health = %q, want %q", h.Status, component.StatusHealthy)
	}

	comp.Backend().FailOn(OpPing, fmt.Errorf("down"))
	if h := comp.Health(ctx); h.Status != component.StatusUnhealthy {
		t.Errorf("Health with failing ping = %q", h.Status)
	}

	if err := comp.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if comp.Service() != nil {
		t.Error("Service() should be nil after Stop")
	}
}

func TestComponent_SnapshotRestoreReset(t *testing.T) {
	comp := NewComponent()
	h := testutil.T(t)
	h.Setup(comp)
	ctx := context.Background()
	svc := comp.Service()

	id, err := svc.Upload(ctx, storage.UploadInput{Reader: strings.NewReader("v1"), Size: 2, FileName: "a.txt"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	snap := h.Snapshot(comp)

	if _, err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	h.Restore(comp, snap)
	if data, ok := comp.Backend().Object(id); !ok || string(data) != "v1" {
		t.Errorf("Restore did not bring back the object: %q %v", data, ok)
	}

	h.Reset(comp)
	if _, ok := comp.Backend().Object(id); ok {
		t.Error("Reset should drop all objects")
	}
}

func TestComponent_WithConfig(t *testing.T) {
	comp := NewComponent().WithConfig(storage.Config{Provider: "memory", Enabled: true, MaxFileSize: 4})
	testutil.T(t).Setup(comp)
	ctx := context.Background()

	_, err := comp.Service().Upload(ctx, storage.UploadInput{Reader: strings.NewReader("too long"), Size: 8, FileName: "a.txt"})
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT above max_file_size, got %v", err)
	}
	if _, err := comp.Service().Upload(ctx, storage.UploadInput{Reader: strings.NewReader("ok"), Size: 2, FileName: "a.txt"}); err != nil {
		t.Errorf("Upload within the limit: %v", err)
	}
}

func TestComponent_RestoreWrongType(t *testing.T) {
	comp := NewComponent()
	testutil.T(t).Setup(comp)
	if err := comp.Restore(context.Background(), "nope"); err == nil {
		t.Error("expected an error for a foreign snapshot")
	}
}

func TestBackend_Multipart(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()

	uploadID, err := b.CreateMultipartUpload(ctx, "k", storage.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	e2, _ := b.UploadPart(ctx, "k", uploadID, 2, strings.NewReader("world"), 5)
	e1, _ := b.UploadPart(ctx, "k", uploadID, 1, strings.NewReader("hello "), 6)

	err = b.CompleteMultipartUpload(ctx, "k", uploadID, []storage.CompletedPart{{Number: 2, ETag: e2}, {Number: 1, ETag: e1}})
	if err == nil {
		t.Fatal("expected out-of-order parts to be rejected")
	}
	if err := b.CompleteMultipartUpload(ctx, "k", uploadID, []storage.CompletedPart{{Number: 1, ETag: e1}, {Number: 2, ETag: e2}}); err != nil {
		t.Fatalf("CompleteMultipartUpload: %v", err)
	}

	rc, err := b.GetObject(ctx, "k")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("object = %q", got)
	}
	if b.OpenUploads() != 0 {
		t.Error("completed upload should be closed")
	}

	if err := b.AbortMultipartUpload(ctx, "k", uploadID); !stderrors.Is(err, storage.ErrUploadNotFound) {
		t.Errorf("expected ErrUploadNotFound, got %v", err)
	}
	if _, err := b.GetObject(ctx, "missing"); !stderrors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestBackend_FailOnAndCalls(t *testing.T) {
	b := NewBackend()
	ctx := context.Background()
	boom := fmt.Errorf("boom")

	b.FailOn(OpPut, boom)
	if err := b.PutObject(ctx, "k", strings.NewReader("x"), 1, storage.PutOptions{}); err != boom {
		t.Errorf("expected injected error, got %v", err)
	}
	b.FailOn(OpPut, nil)
	if err := b.PutObject(ctx, "k", strings.NewReader("x"), 1, storage.PutOptions{}); err != nil {
		t.Errorf("PutObject: %v", err)
	}
	if n := b.Calls(OpPut); n != 2 {
		t.Errorf("Calls(put) = %d, want 2", n)
	}
}
