package storage_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/filestore/errors"
	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/storage"
	"github.com/kbukum/filestore/storage/storagetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T, cfg storage.Config, opts ...storage.Option) (*storage.Service, *storagetest.Backend) {
	t.Helper()
	b := storagetest.NewBackend()
	if cfg.Provider == "" {
		cfg.Provider = "memory"
	}
	return storage.NewService(b, cfg, logger.Nop(), opts...), b
}

func assertCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	if !errors.HasCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func upload(t *testing.T, svc *storage.Service, name string, data []byte) string {
	t.Helper()
	id, err := svc.Upload(context.Background(), storage.UploadInput{
		Reader:   bytes.NewReader(data),
		Size:     int64(len(data)),
		FileName: name,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return id
}

func download(t *testing.T, svc *storage.Service, id string) []byte {
	t.Helper()
	rc, err := svc.Download(context.Background(), id)
	if err != nil {
		t.Fatalf("Download(%s): %v", id, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func TestService_UploadDownloadRoundTrip(t *testing.T) {
	svc, b := newService(t, storage.Config{})
	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 4096),
	}
	for i, p := range payloads {
		id := upload(t, svc, fmt.Sprintf("file%d.bin", i), p)
		if !strings.HasSuffix(id, ".bin") {
			t.Errorf("expected extension preserved, got %q", id)
		}
		if got := download(t, svc, id); !bytes.Equal(got, p) {
			t.Errorf("payload %d: round trip mismatch (%d bytes vs %d)", i, len(got), len(p))
		}
		if ct := b.ContentType(id); ct != storage.DefaultContentType {
			t.Errorf("expected default content type, got %q", ct)
		}
	}
}

func TestService_UploadValidation(t *testing.T) {
	svc, b := newService(t, storage.Config{MaxFileSize: 10})
	ctx := context.Background()

	tests := []struct {
		name string
		in   storage.UploadInput
	}{
		{"empty file name", storage.UploadInput{Reader: strings.NewReader("x"), Size: 1}},
		{"nil reader", storage.UploadInput{FileName: "a.txt", Size: 1}},
		{"too large", storage.UploadInput{Reader: strings.NewReader("01234567890"), Size: 11, FileName: "a.txt"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Upload(ctx, tc.in)
			assertCode(t, err, errors.ErrCodeInvalidInput)
		})
	}
	if n := b.Calls(storagetest.OpPut); n != 0 {
		t.Errorf("rejected uploads must not reach the backend, got %d calls", n)
	}
}

func TestService_UploadBackendFailure(t *testing.T) {
	svc, b := newService(t, storage.Config{})
	cause := fmt.Errorf("connection reset")
	b.FailOn(storagetest.OpPut, cause)

	_, err := svc.Upload(context.Background(), storage.UploadInput{
		Reader: strings.NewReader("x"), Size: 1, FileName: "a.txt",
	})
	assertCode(t, err, errors.ErrCodeBackendUnavailable)
	if !stderrors.Is(err, cause) {
		t.Error("expected the provider error to be reachable with errors.Is")
	}
	appErr, _ := errors.AsAppError(err)
	if !appErr.Retryable {
		t.Error("expected BACKEND_UNAVAILABLE to be retryable")
	}
	if appErr.Details["operation"] != "upload" || appErr.Details[logger.FieldObjectID] == nil {
		t.Errorf("expected operation and object id in details, got %v", appErr.Details)
	}
}

func TestService_DeleteThenDownloadIsNotFound(t *testing.T) {
	svc, _ := newService(t, storage.Config{})
	ctx := context.Background()
	id := upload(t, svc, "doc.pdf", []byte("%PDF"))

	existed, err := svc.Delete(ctx, id)
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v; want true, nil", existed, err)
	}

	_, err = svc.Download(ctx, id)
	assertCode(t, err, errors.ErrCodeNotFound)

	existed, err = svc.Delete(ctx, id)
	if err != nil || existed {
		t.Errorf("second Delete = %v, %v; want false, nil", existed, err)
	}
}

func TestService_DeleteBackendFailure(t *testing.T) {
	svc, b := newService(t, storage.Config{})
	b.FailOn(storagetest.OpDelete, fmt.Errorf("timeout"))

	existed, err := svc.Delete(context.Background(), "abc")
	assertCode(t, err, errors.ErrCodeBackendUnavailable)
	if existed {
		t.Error("expected existed=false on failure")
	}
}

func TestService_PresignedURLExpiry(t *testing.T) {
	clock := newFakeClock()
	svc, b := newService(t, storage.Config{})
	b.Now = clock.Now
	ctx := context.Background()

	raw, err := svc.PresignedURL(ctx, "abc.png", 3600)
	if err != nil {
		t.Fatalf("PresignedURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	exp, _ := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if want := clock.Now().Add(time.Hour).Unix(); exp != want {
		t.Errorf("expires = %d, want %d", exp, want)
	}

	for _, secs := range []int64{0, -1} {
		_, err := svc.PresignedURL(ctx, "abc.png", secs)
		assertCode(t, err, errors.ErrCodeInvalidInput)
	}
}

func initiate(t *testing.T, svc *storage.Service, name string) string {
	t.Helper()
	id, err := svc.InitiateMultipartUpload(context.Background(), storage.MultipartInput{FileName: name, ContentType: "video/mp4"})
	if err != nil {
		t.Fatalf("InitiateMultipartUpload: %v", err)
	}
	return id
}

func uploadPart(t *testing.T, svc *storage.Service, sessionID string, n int, data []byte) string {
	t.Helper()
	etag, err := svc.UploadPart(context.Background(), sessionID, n, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("UploadPart(%d): %v", n, err)
	}
	return etag
}

func TestService_MultipartReassemblesAnyOrder(t *testing.T) {
	svc, b := newService(t, storage.Config{})
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 100)
	chunks := [][]byte{payload[:400], payload[400:800], payload[800:1200], payload[1200:]}

	sessionID := initiate(t, svc, "movie.mp4")
	parts := make(map[int]string)
	for _, n := range []int{3, 1, 4, 2} {
		parts[n] = uploadPart(t, svc, sessionID, n, chunks[n-1])
	}

	objectID, err := svc.CompleteMultipartUpload(ctx, sessionID, parts)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.HasSuffix(objectID, ".mp4") {
		t.Errorf("expected .mp4 object id, got %q", objectID)
	}
	if got := download(t, svc, objectID); !bytes.Equal(got, payload) {
		t.Error("reassembled object differs from the original payload")
	}
	if ct := b.ContentType(objectID); ct != "video/mp4" {
		t.Errorf("content type = %q, want video/mp4", ct)
	}

	if _, err := svc.Registry().Store().Get(ctx, sessionID); !stderrors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("expected session removed after completion, got %v", err)
	}
	_, err = svc.UploadPart(ctx, sessionID, 5, strings.NewReader("late"), 4)
	assertCode(t, err, errors.ErrCodeSessionNotFound)
}

func TestService_ConcurrentPartsNoLostUpdates(t *testing.T) {
	svc, _ := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "big.bin")

	var wg sync.WaitGroup
	for n := 1; n <= 50; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			data := []byte(fmt.Sprintf("part-%02d", n))
			if _, err := svc.UploadPart(ctx, sessionID, n, bytes.NewReader(data), int64(len(data))); err != nil {
				t.Errorf("UploadPart(%d): %v", n, err)
			}
		}(n)
	}
	wg.Wait()

	sess, err := svc.Registry().Store().Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Parts) != 50 {
		t.Fatalf("expected 50 recorded parts, got %d", len(sess.Parts))
	}
	for n := 1; n <= 50; n++ {
		if _, ok := sess.Parts[n]; !ok {
			t.Errorf("part %d missing", n)
		}
	}
}

func TestService_CompleteMismatchLeavesSessionUntouched(t *testing.T) {
	svc, _ := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.bin")
	e1 := uploadPart(t, svc, sessionID, 1, []byte("one"))
	e2 := uploadPart(t, svc, sessionID, 2, []byte("two"))

	tests := []struct {
		name  string
		parts map[int]string
	}{
		{"empty list", map[int]string{}},
		{"uploaded part missing", map[int]string{1: e1}},
		{"part never uploaded", map[int]string{1: e1, 2: e2, 3: e2}},
		{"etag mismatch", map[int]string{1: e1, 2: e1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CompleteMultipartUpload(ctx, sessionID, tc.parts)
			assertCode(t, err, errors.ErrCodeIncompleteUpload)

			sess, err := svc.Registry().Store().Get(ctx, sessionID)
			if err != nil {
				t.Fatalf("session should still exist: %v", err)
			}
			if sess.State != storage.StateOpen || len(sess.Parts) != 2 {
				t.Errorf("session changed: state=%s parts=%d", sess.State, len(sess.Parts))
			}
		})
	}

	objectID, err := svc.CompleteMultipartUpload(ctx, sessionID, map[int]string{1: e1, 2: e2})
	if err != nil {
		t.Fatalf("completion with the correct list should succeed: %v", err)
	}
	if got := download(t, svc, objectID); string(got) != "onetwo" {
		t.Errorf("content = %q, want onetwo", got)
	}
}

func TestService_ReuploadedPartLastWriteWins(t *testing.T) {
	svc, _ := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.txt")

	first := uploadPart(t, svc, sessionID, 1, []byte("first"))
	second := uploadPart(t, svc, sessionID, 1, []byte("second"))
	if first == second {
		t.Fatal("different bytes should produce different ETags")
	}

	_, err := svc.CompleteMultipartUpload(ctx, sessionID, map[int]string{1: first})
	assertCode(t, err, errors.ErrCodeIncompleteUpload)

	objectID, err := svc.CompleteMultipartUpload(ctx, sessionID, map[int]string{1: second})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := download(t, svc, objectID); string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}
}

func TestService_UploadPartValidation(t *testing.T) {
	svc, _ := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.bin")

	tests := []struct {
		name string
		num  int
		size int64
		code errors.ErrorCode
	}{
		{"part zero", 0, 1, errors.ErrCodeInvalidInput},
		{"part above ceiling", 10001, 1, errors.ErrCodeInvalidInput},
		{"zero size", 1, 0, errors.ErrCodeInvalidInput},
		{"highest part", 10000, 1, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UploadPart(ctx, sessionID, tc.num, strings.NewReader("x"), tc.size)
			if tc.code == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			assertCode(t, err, tc.code)
		})
	}

	_, err := svc.UploadPart(ctx, "no-such-session", 1, strings.NewReader("x"), 1)
	assertCode(t, err, errors.ErrCodeSessionNotFound)
}

func TestService_CompletingSessionRejectsParts(t *testing.T) {
	svc, _ := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.bin")
	e1 := uploadPart(t, svc, sessionID, 1, []byte("one"))

	if _, err := svc.Registry().BeginComplete(ctx, sessionID, map[int]string{1: e1}); err != nil {
		t.Fatalf("BeginComplete: %v", err)
	}
	_, err := svc.UploadPart(ctx, sessionID, 2, strings.NewReader("two"), 3)
	assertCode(t, err, errors.ErrCodeSessionNotFound)
}

func TestService_CompleteBackendFailureReopens(t *testing.T) {
	svc, b := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.bin")
	parts := map[int]string{1: uploadPart(t, svc, sessionID, 1, []byte("data"))}

	b.FailOn(storagetest.OpComplete, fmt.Errorf("503 slow down"))
	_, err := svc.CompleteMultipartUpload(ctx, sessionID, parts)
	assertCode(t, err, errors.ErrCodeBackendUnavailable)

	sess, err := svc.Registry().Store().Get(ctx, sessionID)
	if err != nil || sess.State != storage.StateOpen {
		t.Fatalf("expected session back to OPEN, got %v / %v", sess, err)
	}

	b.FailOn(storagetest.OpComplete, nil)
	if _, err := svc.CompleteMultipartUpload(ctx, sessionID, parts); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
}

func TestService_CompleteVanishedUploadDropsSession(t *testing.T) {
	svc, b := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.bin")
	parts := map[int]string{1: uploadPart(t, svc, sessionID, 1, []byte("data"))}

	b.FailOn(storagetest.OpComplete, fmt.Errorf("provider: %w", storage.ErrUploadNotFound))
	_, err := svc.CompleteMultipartUpload(ctx, sessionID, parts)
	assertCode(t, err, errors.ErrCodeSessionNotFound)

	if _, err := svc.Registry().Store().Get(ctx, sessionID); err == nil {
		t.Error("session should be removed once the native upload is gone")
	}
}

func TestService_MinPartSize(t *testing.T) {
	cfg := storage.Config{Multipart: storage.MultipartConfig{MinPartSize: 4}}
	svc, _ := newService(t, cfg)
	ctx := context.Background()

	sessionID := initiate(t, svc, "a.bin")
	small := map[int]string{
		1: uploadPart(t, svc, sessionID, 1, []byte("ab")),
		2: uploadPart(t, svc, sessionID, 2, []byte("cdef")),
	}
	_, err := svc.CompleteMultipartUpload(ctx, sessionID, small)
	assertCode(t, err, errors.ErrCodeIncompleteUpload)

	sessionID = initiate(t, svc, "b.bin")
	ok := map[int]string{
		1: uploadPart(t, svc, sessionID, 1, []byte("abcd")),
		2: uploadPart(t, svc, sessionID, 2, []byte("e")),
	}
	if _, err := svc.CompleteMultipartUpload(ctx, sessionID, ok); err != nil {
		t.Fatalf("a short final part must be accepted: %v", err)
	}
}

func TestService_ExpiredSessionSweptAndRejected(t *testing.T) {
	clock := newFakeClock()
	cfg := storage.Config{Multipart: storage.MultipartConfig{SessionTTL: time.Hour}}
	svc, b := newService(t, cfg, storage.WithClock(clock.Now))
	ctx := context.Background()

	expiring := initiate(t, svc, "old.bin")
	uploadPart(t, svc, expiring, 1, []byte("x"))
	clock.Advance(30 * time.Minute)
	fresh := initiate(t, svc, "new.bin")
	clock.Advance(31 * time.Minute)

	_, err := svc.UploadPart(ctx, expiring, 2, strings.NewReader("y"), 1)
	assertCode(t, err, errors.ErrCodeSessionNotFound)

	removed, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := svc.Registry().Store().Get(ctx, expiring); !stderrors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("expected expired session gone, got %v", err)
	}
	if b.OpenUploads() != 1 {
		t.Errorf("expected the expired native upload aborted, %d open", b.OpenUploads())
	}
	_, err = svc.UploadPart(ctx, expiring, 1, strings.NewReader("y"), 1)
	assertCode(t, err, errors.ErrCodeSessionNotFound)

	uploadPart(t, svc, fresh, 1, []byte("still open"))
}

func TestService_Abort(t *testing.T) {
	svc, b := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.bin")
	uploadPart(t, svc, sessionID, 1, []byte("x"))

	if err := svc.AbortMultipartUpload(ctx, sessionID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if b.OpenUploads() != 0 {
		t.Errorf("expected native upload aborted")
	}
	assertCode(t, svc.AbortMultipartUpload(ctx, sessionID), errors.ErrCodeSessionNotFound)
	_, err := svc.UploadPart(ctx, sessionID, 2, strings.NewReader("y"), 1)
	assertCode(t, err, errors.ErrCodeSessionNotFound)
}

func TestService_AbortFailureRetriedBySweep(t *testing.T) {
	clock := newFakeClock()
	cfg := storage.Config{Multipart: storage.MultipartConfig{SessionTTL: time.Minute}}
	svc, b := newService(t, cfg, storage.WithClock(clock.Now))
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.bin")

	b.FailOn(storagetest.OpAbort, fmt.Errorf("unreachable"))
	assertCode(t, svc.AbortMultipartUpload(ctx, sessionID), errors.ErrCodeBackendUnavailable)

	sess, err := svc.Registry().Store().Get(ctx, sessionID)
	if err != nil || sess.State != storage.StateAborted {
		t.Fatalf("expected session kept ABORTED, got %v / %v", sess, err)
	}

	clock.Advance(2 * time.Minute)
	if n, _ := svc.Sweep(ctx); n != 0 {
		t.Errorf("sweep must keep the session while the abort keeps failing, removed %d", n)
	}

	b.FailOn(storagetest.OpAbort, nil)
	if n, _ := svc.Sweep(ctx); n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if b.OpenUploads() != 0 {
		t.Error("expected native upload aborted by the sweep")
	}
}

func TestService_InitiateValidation(t *testing.T) {
	svc, b := newService(t, storage.Config{MaxFileSize: 100})
	ctx := context.Background()

	_, err := svc.InitiateMultipartUpload(ctx, storage.MultipartInput{})
	assertCode(t, err, errors.ErrCodeInvalidInput)
	_, err = svc.InitiateMultipartUpload(ctx, storage.MultipartInput{FileName: "a", FileSize: 101})
	assertCode(t, err, errors.ErrCodeInvalidInput)

	b.FailOn(storagetest.OpCreate, fmt.Errorf("denied"))
	_, err = svc.InitiateMultipartUpload(ctx, storage.MultipartInput{FileName: "a"})
	assertCode(t, err, errors.ErrCodeBackendUnavailable)
}

func TestService_SessionIDsAreOpaque(t *testing.T) {
	svc, _ := newService(t, storage.Config{})
	ctx := context.Background()
	sessionID := initiate(t, svc, "my_file-v2.tar.gz")

	sess, err := svc.Registry().Store().Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strings.Contains(sessionID, strings.TrimSuffix(sess.ObjectID, ".gz")) || strings.Contains(sessionID, sess.UploadID) {
		t.Errorf("session id %q must not embed the object key or upload id", sessionID)
	}
}

// cappedBackend adds a provider cap on presigned URL lifetime.
type cappedBackend struct {
	*storagetest.Backend
	max time.Duration
}

func (c *cappedBackend) MaxPresignExpiry() time.Duration { return c.max }

func TestService_PresignedURLExpiryBounds(t *testing.T) {
	ctx := context.Background()

	t.Run("beyond duration range", func(t *testing.T) {
		svc, b := newService(t, storage.Config{})
		limit := int64(math.MaxInt64 / int64(time.Second))
		for _, secs := range []int64{limit + 1, math.MaxInt64} {
			_, err := svc.PresignedURL(ctx, "abc.png", secs)
			assertCode(t, err, errors.ErrCodeInvalidInput)
		}
		if n := b.Calls(storagetest.OpPresign); n != 0 {
			t.Errorf("an out-of-range expiry must not reach the backend, %d calls", n)
		}

		clock := newFakeClock()
		b.Now = clock.Now
		raw, err := svc.PresignedURL(ctx, "abc.png", limit)
		if err != nil {
			t.Fatalf("PresignedURL(%d): %v", limit, err)
		}
		u, _ := url.Parse(raw)
		exp, _ := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
		if exp <= clock.Now().Unix() {
			t.Errorf("expires %d is not in the future", exp)
		}
	})

	t.Run("provider cap", func(t *testing.T) {
		b := &cappedBackend{Backend: storagetest.NewBackend(), max: 7 * 24 * time.Hour}
		svc := storage.NewService(b, storage.Config{Provider: "memory"}, logger.Nop())
		week := int64(7 * 24 * 60 * 60)

		if _, err := svc.PresignedURL(ctx, "abc.png", week); err != nil {
			t.Fatalf("a week is within the cap: %v", err)
		}
		_, err := svc.PresignedURL(ctx, "abc.png", week+1)
		assertCode(t, err, errors.ErrCodeInvalidInput)
		if n := b.Calls(storagetest.OpPresign); n != 1 {
			t.Errorf("presign calls = %d, want 1", n)
		}
	})
}

func TestService_SweeperLoopRemovesExpiredSessions(t *testing.T) {
	clock := newFakeClock()
	cfg := storage.Config{Multipart: storage.MultipartConfig{
		SessionTTL:    time.Minute,
		SweepInterval: 5 * time.Millisecond,
	}}
	svc, b := newService(t, cfg, storage.WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionID := initiate(t, svc, "stale.bin")
	uploadPart(t, svc, sessionID, 1, []byte("x"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Registry().Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := svc.Registry().Store().Get(ctx, sessionID); err != nil {
		t.Fatalf("a live session must survive sweeps: %v", err)
	}

	clock.Advance(2 * time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := svc.Registry().Store().Get(ctx, sessionID)
		if stderrors.Is(err, storage.ErrSessionNotFound) && b.OpenUploads() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not remove the expired session (get err %v, %d open uploads)", err, b.OpenUploads())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if b.Calls(storagetest.OpAbort) == 0 {
		t.Error("expected the native upload aborted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// gatedBackend holds the first UploadPart call until gate is closed.
type gatedBackend struct {
	*storagetest.Backend
	entered chan struct{}
	gate    chan struct{}
	calls   atomic.Int32
}

func (g *gatedBackend) UploadPart(ctx context.Context, key, uploadID string, n int, r io.Reader, size int64) (string, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.gate
	}
	return g.Backend.UploadPart(ctx, key, uploadID, n, r, size)
}

func TestService_SamePartUploadsDoNotInterleave(t *testing.T) {
	b := &gatedBackend{Backend: storagetest.NewBackend(), entered: make(chan struct{}), gate: make(chan struct{})}
	svc := storage.NewService(b, storage.Config{Provider: "memory"}, logger.Nop())
	ctx := context.Background()
	sessionID := initiate(t, svc, "a.txt")

	var wg sync.WaitGroup
	etags := make([]string, 2)
	send := func(i int, data string) {
		defer wg.Done()
		etag, err := svc.UploadPart(ctx, sessionID, 1, strings.NewReader(data), int64(len(data)))
		if err != nil {
			t.Errorf("UploadPart(%q): %v", data, err)
		}
		etags[i] = etag
	}

	wg.Add(1)
	go send(0, "first")
	<-b.entered

	wg.Add(1)
	go send(1, "second")
	time.Sleep(50 * time.Millisecond)
	if n := b.calls.Load(); n != 1 {
		t.Fatalf("second upload of the same part reached the backend early, %d calls", n)
	}

	close(b.gate)
	wg.Wait()

	sess, err := svc.Registry().Store().Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := sess.Parts[1].ETag; got != etags[1] {
		t.Fatalf("recorded ETag %q, want the later upload's %q", got, etags[1])
	}
	objectID, err := svc.CompleteMultipartUpload(ctx, sessionID, map[int]string{1: etags[1]})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := download(t, svc, objectID); string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}
}

func TestNewRegistry_ZeroConfigUsesDefaults(t *testing.T) {
	b := storagetest.NewBackend()
	reg := storage.NewRegistry(storage.NewMemorySessionStore(), b, storage.MultipartConfig{}, nil)
	ctx := context.Background()

	uploadID, err := b.CreateMultipartUpload(ctx, "a.bin", storage.PutOptions{})
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	sess, err := reg.Create(ctx, storage.MultipartInput{FileName: "a.bin"}, "a.bin", uploadID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ttl := sess.ExpiresAt.Sub(sess.CreatedAt); ttl != storage.DefaultSessionTTL {
		t.Errorf("ttl = %v, want %v", ttl, storage.DefaultSessionTTL)
	}
	if n, err := reg.Sweep(ctx); err != nil || n != 0 {
		t.Errorf("a fresh session must not be swept, removed %d (%v)", n, err)
	}
	if _, err := reg.Open(ctx, sess.ID); err != nil {
		t.Errorf("Open: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Run(runCtx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
