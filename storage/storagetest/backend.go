package storagetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/filestore/storage"
)

// Backend operation names accepted by FailOn.
const (
	OpPing     = "ping"
	OpPut      = "put"
	OpGet      = "get"
	OpDelete   = "delete"
	OpPresign  = "presign"
	OpCreate   = "create_multipart"
	OpPart     = "upload_part"
	OpComplete = "complete_multipart"
	OpAbort    = "abort_multipart"
)

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modTime     time.Time
}

type memUpload struct {
	key   string
	opts  storage.PutOptions
	parts map[int][]byte
}

// Backend is an in-memory storage.Backend with fault injection.
type Backend struct {
	// Now is the clock used for presigned URL expiry.
	Now func() time.Time

	mu      sync.RWMutex
	objects map[string]*memObject
	uploads map[string]*memUpload
	faults  map[string]error
	calls   map[string]int
}

// NewBackend creates an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		Now:     time.Now,
		objects: make(map[string]*memObject),
		uploads: make(map[string]*memUpload),
		faults:  make(map[string]error),
		calls:   make(map[string]int),
	}
}

var _ storage.Backend = (*Backend)(nil)

// FailOn makes every later call of op return err. A nil err clears the fault.
func (b *Backend) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, op)
		return
	}
	b.faults[op] = err
}

// Calls returns how many times op was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.calls[op]
}

// Object returns a copy of the stored bytes of key.
func (b *Backend) Object(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(o.data), true
}

// ContentType returns the content type key was stored with.
func (b *Backend) ContentType(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if o, ok := b.objects[key]; ok {
		return o.contentType
	}
	return ""
}

// OpenUploads returns the number of multipart uploads neither completed nor aborted.
func (b *Backend) OpenUploads() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.uploads)
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Ping(_ context.Context) error {
	return b.enter(OpPing)
}

func (b *Backend) PutObject(_ context.Context, key string, r io.Reader, _ int64, opts storage.PutOptions) error {
	if err := b.enter(OpPut); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read upload data: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = &memObject{data: data, contentType: opts.ContentType, metadata: opts.Metadata, modTime: time.Now()}
	return nil
}

func (b *Backend) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	if err := b.enter(OpGet); err != nil {
		return nil, err
	}
	data, ok := b.Object(key)
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) DeleteObject(_ context.Context, key string) (bool, error) {
	if err := b.enter(OpDelete); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	delete(b.objects, key)
	return ok, nil
}

// PresignGetObject returns mem://<key>?expires=<unix seconds>.
func (b *Backend) PresignGetObject(_ context.Context, key string, expiry time.Duration) (string, error) {
	if err := b.enter(OpPresign); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(b.Now().Add(expiry).Unix(), 10))
	return (&url.URL{Scheme: "mem", Host: "objects", Path: "/" + key, RawQuery: q.Encode()}).String(), nil
}

func (b *Backend) CreateMultipartUpload(_ context.Context, key string, opts storage.PutOptions) (string, error) {
	if err := b.enter(OpCreate); err != nil {
		return "", err
	}
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads[id] = &memUpload{key: key, opts: opts, parts: make(map[int][]byte)}
	return id, nil
}

func (b *Backend) UploadPart(_ context.Context, key, uploadID string, partNumber int, r io.Reader, _ int64) (string, error) {
	if err := b.enter(OpPart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read part data: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.uploads[uploadID]
	if !ok || u.key != key {
		return "", fmt.Errorf("upload %s: %w", uploadID, storage.ErrUploadNotFound)
	}
	u.parts[partNumber] = data
	return ETag(data), nil
}

func (b *Backend) CompleteMultipartUpload(_ context.Context, key, uploadID string, parts []storage.CompletedPart) error {
	if err := b.enter(OpComplete); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.uploads[uploadID]
	if !ok || u.key != key {
		return fmt.Errorf("upload %s: %w", uploadID, storage.ErrUploadNotFound)
	}
	var buf bytes.Buffer
	last := 0
	for _, p := range parts {
		if p.Number <= last {
			return fmt.Errorf("parts out of order at %d", p.Number)
		}
		last = p.Number
		data, ok := u.parts[p.Number]
		if !ok {
			return fmt.Errorf("part %d was never uploaded", p.Number)
		}
		if ETag(data) != p.ETag {
			return fmt.Errorf("part %d: etag mismatch", p.Number)
		}
		buf.Write(data)
	}
	b.objects[key] = &memObject{data: buf.Bytes(), contentType: u.opts.ContentType, metadata: u.opts.Metadata, modTime: time.Now()}
	delete(b.uploads, uploadID)
	return nil
}

func (b *Backend) AbortMultipartUpload(_ context.Context, _, uploadID string) error {
	if err := b.enter(OpAbort); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.uploads[uploadID]; !ok {
		return fmt.Errorf("upload %s: %w", uploadID, storage.ErrUploadNotFound)
	}
	delete(b.uploads, uploadID)
	return nil
}

func (b *Backend) enter(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	return b.faults[op]
}

func (b *Backend) snapshot() map[string]*memObject {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneObjects(b.objects)
}

func (b *Backend) restore(objects map[string]*memObject) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects = cloneObjects(objects)
}

func (b *Backend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects = make(map[string]*memObject)
	b.uploads = make(map[string]*memUpload)
	b.faults = make(map[string]error)
	b.calls = make(map[string]int)
}

func cloneObjects(in map[string]*memObject) map[string]*memObject {
	out := make(map[string]*memObject, len(in))
	for k, v := range in {
		cp := *v
		cp.data = bytes.Clone(v.data)
		out[k] = &cp
	}
	return out
}

// ETag returns the quoted hex MD5 of data, the form S3 uses for parts.
func ETag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
