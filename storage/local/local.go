package local

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // ETags are content fingerprints, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/storage"
)

func init() {
	storage.RegisterFactory(storage.ProviderLocal, func(_ context.Context, providerCfg any, log *logger.Logger) (storage.Backend, error) {
		c := &Config{}
		if providerCfg != nil {
			pc, ok := providerCfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("local: expected *local.Config, got %T", providerCfg)
			}
			c = pc
		}
		return New(c, log)
	})
}

const (
	objectsDir   = "objects"
	metaDir      = "meta"
	multipartDir = ".multipart"
	manifestFile = "upload.json"
)

// ErrInvalidToken is returned by VerifyToken for any token that does not
// grant access to the requested object.
var ErrInvalidToken = errors.New("local: invalid access token")

// ObjectInfo is the sidecar record kept next to each object.
type ObjectInfo struct {
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type manifest struct {
	Key         string            `json:"key"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Backend implements storage.Backend on the local filesystem. Objects live
// under <base_path>/<bucket>/objects and in-progress multipart uploads under
// <base_path>/<bucket>/.multipart/<upload id>.
type Backend struct {
	root       string
	bucket     string
	publicBase string
	signingKey []byte
	now        func() time.Time
	log        *logger.Logger
}

var _ storage.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New validates cfg and prepares the directory layout.
func New(cfg *Config, log *logger.Logger, opts ...Option) (*Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	base, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("local: resolve base path: %w", err)
	}
	root := filepath.Join(base, cfg.Bucket)
	for _, dir := range []string{objectsDir, metaDir, multipartDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, fmt.Errorf("local: create %s directory: %w", dir, err)
		}
	}
	key, err := deriveKey(cfg.SigningSecret, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		root:       root,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		signingKey: key,
		now:        time.Now,
		log:        log.WithComponent("storage.local"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// deriveKey expands the configured secret into a per-bucket HMAC key so one
// secret can serve several buckets without tokens crossing between them.
func deriveKey(secret, bucket string) ([]byte, error) {
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(bucket)), key); err != nil {
		return nil, fmt.Errorf("local: derive signing key: %w", err)
	}
	return key, nil
}

// validKey reports whether key is a single, non-special path element.
func validKey(key string) bool {
	return key != "" && key != "." && key != ".." &&
		!strings.ContainsAny(key, `/\`) && !strings.HasPrefix(key, ".")
}

func (b *Backend) objectPath(key string) string { return filepath.Join(b.root, objectsDir, key) }
func (b *Backend) metaPath(key string) string   { return filepath.Join(b.root, metaDir, key+".json") }
func (b *Backend) uploadDir(id string) string   { return filepath.Join(b.root, multipartDir, id) }

func (b *Backend) Name() string { return storage.ProviderLocal }

// GetBucket returns the bucket directory name.
func (b *Backend) GetBucket() string { return b.bucket }

func (b *Backend) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Join(b.root, objectsDir))
	if err != nil {
		return fmt.Errorf("local: ping: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local: %s is not a directory", b.root)
	}
	return nil
}

func (b *Backend) PutObject(_ context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) error {
	if !validKey(key) {
		return fmt.Errorf("local: invalid object key %q", key)
	}
	n, err := writeAtomic(b.objectPath(key), r, nil)
	if err != nil {
		return fmt.Errorf("local: write object: %w", err)
	}
	if size >= 0 && n != size {
		_ = os.Remove(b.objectPath(key))
		return fmt.Errorf("local: short write for %s: got %d bytes, want %d", key, n, size)
	}
	return b.writeMeta(key, ObjectInfo{Size: n, ContentType: opts.ContentType, Metadata: opts.Metadata})
}

func (b *Backend) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("local: get %q: %w", key, storage.ErrObjectNotFound)
	}
	f, err := os.Open(b.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("local: get %s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("local: open object: %w", err)
	}
	return f, nil
}

// Stat returns the sidecar record of an object.
func (b *Backend) Stat(key string) (ObjectInfo, error) {
	var info ObjectInfo
	if !validKey(key) {
		return info, fmt.Errorf("local: stat %q: %w", key, storage.ErrObjectNotFound)
	}
	data, err := os.ReadFile(b.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return info, fmt.Errorf("local: stat %s: %w", key, storage.ErrObjectNotFound)
		}
		return info, fmt.Errorf("local: read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("local: decode metadata: %w", err)
	}
	return info, nil
}

func (b *Backend) DeleteObject(_ context.Context, key string) (bool, error) {
	if !validKey(key) {
		return false, nil
	}
	if err := os.Remove(b.objectPath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("local: delete object: %w", err)
	}
	if err := os.Remove(b.metaPath(key)); err != nil && !os.IsNotExist(err) {
		b.log.Warn("failed to remove metadata sidecar", logger.Fields(logger.FieldObjectID, key, logger.FieldError, err.Error()))
	}
	return true, nil
}

// PresignGetObject returns <public_base_url>/<bucket>/<key>?token=<jwt>. The
// token is HS256-signed and bound to the key and bucket.
func (b *Backend) PresignGetObject(_ context.Context, key string, expiry time.Duration) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("local: invalid object key %q", key)
	}
	now := b.now()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		Audience:  jwt.ClaimStrings{b.bucket},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		return "", fmt.Errorf("local: sign token: %w", err)
	}
	return b.publicBase + "/" + url.PathEscape(b.bucket) + "/" + url.PathEscape(key) +
		"?token=" + url.QueryEscape(token), nil
}

// VerifyToken checks that token grants read access to key right now.
func (b *Backend) VerifyToken(key, token string) error {
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return b.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(b.bucket),
		jwt.WithSubject(key),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(b.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

func (b *Backend) CreateMultipartUpload(_ context.Context, key string, opts storage.PutOptions) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("local: invalid object key %q", key)
	}
	id := uuid.NewString()
	dir := b.uploadDir(id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("local: create upload directory: %w", err)
	}
	data, err := json.Marshal(manifest{Key: key, ContentType: opts.ContentType, Metadata: opts.Metadata})
	if err != nil {
		return "", fmt.Errorf("local: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o640); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("local: write manifest: %w", err)
	}
	return id, nil
}

// loadUpload reads the manifest of uploadID and checks it belongs to key.
func (b *Backend) loadUpload(key, uploadID string) (manifest, error) {
	var m manifest
	if !validKey(uploadID) {
		return m, storage.ErrUploadNotFound
	}
	data, err := os.ReadFile(filepath.Join(b.uploadDir(uploadID), manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return m, storage.ErrUploadNotFound
		}
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Key != key {
		return m, storage.ErrUploadNotFound
	}
	return m, nil
}

func (b *Backend) UploadPart(_ context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	if _, err := b.loadUpload(key, uploadID); err != nil {
		return "", fmt.Errorf("local: upload part: %w", err)
	}
	h := md5.New() //nolint:gosec
	path := filepath.Join(b.uploadDir(uploadID), strconv.Itoa(partNumber))
	n, err := writeAtomic(path, r, h)
	if err != nil {
		return "", fmt.Errorf("local: write part %d: %w", partNumber, err)
	}
	if size >= 0 && n != size {
		_ = os.Remove(path)
		return "", fmt.Errorf("local: short write for part %d: got %d bytes, want %d", partNumber, n, size)
	}
	return quoteETag(h), nil
}

// CompleteMultipartUpload concatenates the listed parts in order into the
// final object, checking each part's content against its ETag on the way.
func (b *Backend) CompleteMultipartUpload(_ context.Context, key, uploadID string, parts []storage.CompletedPart) error {
	m, err := b.loadUpload(key, uploadID)
	if err != nil {
		return fmt.Errorf("local: complete multipart upload: %w", err)
	}
	if len(parts) == 0 {
		return errors.New("local: complete multipart upload: no parts")
	}
	for i := 1; i < len(parts); i++ {
		if parts[i].Number <= parts[i-1].Number {
			return fmt.Errorf("local: complete multipart upload: parts not in ascending order at %d", parts[i].Number)
		}
	}

	dir := b.uploadDir(uploadID)
	tmp, err := os.CreateTemp(filepath.Join(b.root, objectsDir), ".assemble-*")
	if err != nil {
		return fmt.Errorf("local: create temp object: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	var total int64
	for _, p := range parts {
		n, err := appendPart(tmp, filepath.Join(dir, strconv.Itoa(p.Number)), p.ETag)
		if err != nil {
			_ = tmp.Close()
			return fmt.Errorf("local: complete multipart upload: part %d: %w", p.Number, err)
		}
		total += n
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local: close temp object: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.objectPath(key)); err != nil {
		return fmt.Errorf("local: publish object: %w", err)
	}
	if err := b.writeMeta(key, ObjectInfo{Size: total, ContentType: m.ContentType, Metadata: m.Metadata}); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		b.log.Warn("failed to remove upload directory", logger.Fields(logger.FieldUploadID, uploadID, logger.FieldError, err.Error()))
	}
	return nil
}

func appendPart(dst io.Writer, path, etag string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.New("part was never uploaded")
		}
		return 0, err
	}
	defer f.Close() //nolint:errcheck // read-only

	h := md5.New() //nolint:gosec
	n, err := io.Copy(io.MultiWriter(dst, h), f)
	if err != nil {
		return n, err
	}
	if strings.Trim(etag, `"`) != strings.Trim(quoteETag(h), `"`) {
		return n, fmt.Errorf("etag mismatch: got %s", etag)
	}
	return n, nil
}

func (b *Backend) AbortMultipartUpload(_ context.Context, key, uploadID string) error {
	if _, err := b.loadUpload(key, uploadID); err != nil {
		return fmt.Errorf("local: abort multipart upload: %w", err)
	}
	if err := os.RemoveAll(b.uploadDir(uploadID)); err != nil {
		return fmt.Errorf("local: abort multipart upload: %w", err)
	}
	return nil
}

func (b *Backend) writeMeta(key string, info ObjectInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("local: encode metadata: %w", err)
	}
	if _, err := writeAtomic(b.metaPath(key), bytes.NewReader(data), nil); err != nil {
		return fmt.Errorf("local: write metadata: %w", err)
	}
	return nil
}

// writeAtomic copies r into a temp file beside path and renames it into
// place, so readers never observe a partial file. h, if set, sees every byte.
func writeAtomic(path string, r io.Reader, h hash.Hash) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	var w io.Writer = tmp
	if h != nil {
		w = io.MultiWriter(tmp, h)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), path)
}

func quoteETag(h hash.Hash) string {
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}
