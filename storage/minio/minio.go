package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/storage"
)

func init() {
	storage.RegisterFactory(storage.ProviderMinIO, func(ctx context.Context, providerCfg any, log *logger.Logger) (storage.Backend, error) {
		c, ok := providerCfg.(*Config)
		if !ok || c == nil {
			return nil, fmt.Errorf("minio: expected *minio.Config, got %T", providerCfg)
		}
		return Open(ctx, c, log)
	})
}

// Backend implements storage.Backend on a MinIO server. Multipart calls go
// through minio.Core, which exposes the raw part API.
type Backend struct {
	core   *miniogo.Core
	bucket string
	log    *logger.Logger
}

var (
	_ storage.Backend        = (*Backend)(nil)
	_ storage.MinPartSizer   = (*Backend)(nil)
	_ storage.PresignLimiter = (*Backend)(nil)
)

// NewClient creates a MinIO client from cfg without contacting the server.
func NewClient(cfg *Config) (*miniogo.Client, error) {
	opts := &miniogo.Options{
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.AccessKey != "" {
		opts.Creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	client, err := miniogo.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("minio: create client: %w", err)
	}
	return client, nil
}

// New binds client to cfg.Bucket.
func New(client *miniogo.Client, cfg *Config, log *logger.Logger) *Backend {
	if log == nil {
		log = logger.Nop()
	}
	return &Backend{
		core:   &miniogo.Core{Client: client},
		bucket: cfg.Bucket,
		log:    log.WithComponent("storage.minio"),
	}
}

// Open validates cfg, connects and ensures the bucket exists.
func Open(ctx context.Context, cfg *Config, log *logger.Logger) (*Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	b := New(client, cfg, log)
	if err := b.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensureBucket(ctx context.Context, region string) error {
	exists, err := b.core.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("minio: check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.core.MakeBucket(ctx, b.bucket, miniogo.MakeBucketOptions{Region: region}); err != nil {
		if errorCode(err) == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("minio: create bucket %s: %w", b.bucket, err)
	}
	b.log.Info("bucket created", logger.Fields(logger.FieldBucket, b.bucket))
	return nil
}

func (b *Backend) Name() string { return storage.ProviderMinIO }

// MinPartSize reports the S3 protocol minimum, which MinIO enforces.
func (b *Backend) MinPartSize() int64 { return storage.S3MinPartSize }

// MaxPresignExpiry reports the SigV4 cap on presigned URL lifetime.
func (b *Backend) MaxPresignExpiry() time.Duration { return storage.S3MaxPresignExpiry }

func (b *Backend) Ping(ctx context.Context) error {
	exists, err := b.core.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("minio: ping: %w", err)
	}
	if !exists {
		return fmt.Errorf("minio: bucket %s does not exist", b.bucket)
	}
	return nil
}

// PutObject streams r. A size of -1 lets the client switch to its own
// chunked upload.
func (b *Backend) PutObject(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) error {
	_, err := b.core.Client.PutObject(ctx, b.bucket, key, r, size, miniogo.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return fmt.Errorf("minio: put object %s: %w", key, err)
	}
	return nil
}

// GetObject stats the key first; the client's GetObject is lazy and would
// only report a missing key on the first read.
func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := b.core.StatObject(ctx, b.bucket, key, miniogo.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("minio: get %s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("minio: stat object %s: %w", key, err)
	}
	obj, err := b.core.Client.GetObject(ctx, b.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio: get object %s: %w", key, err)
	}
	return obj, nil
}

func (b *Backend) DeleteObject(ctx context.Context, key string) (bool, error) {
	if _, err := b.core.StatObject(ctx, b.bucket, key, miniogo.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("minio: stat object %s: %w", key, err)
	}
	if err := b.core.RemoveObject(ctx, b.bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("minio: remove object %s: %w", key, err)
	}
	return true, nil
}

func (b *Backend) PresignGetObject(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := b.core.PresignedGetObject(ctx, b.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("minio: presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (b *Backend) CreateMultipartUpload(ctx context.Context, key string, opts storage.PutOptions) (string, error) {
	uploadID, err := b.core.NewMultipartUpload(ctx, b.bucket, key, miniogo.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("minio: create multipart upload: %w", err)
	}
	return uploadID, nil
}

func (b *Backend) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	part, err := b.core.PutObjectPart(ctx, b.bucket, key, uploadID, partNumber, r, size, miniogo.PutObjectPartOptions{})
	if err != nil {
		if isNoSuchUpload(err) {
			return "", fmt.Errorf("minio: upload part: %w", storage.ErrUploadNotFound)
		}
		return "", fmt.Errorf("minio: upload part %d: %w", partNumber, err)
	}
	return part.ETag, nil
}

func (b *Backend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) error {
	completed := make([]miniogo.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = miniogo.CompletePart{PartNumber: p.Number, ETag: p.ETag}
	}
	if _, err := b.core.CompleteMultipartUpload(ctx, b.bucket, key, uploadID, completed, miniogo.PutObjectOptions{}); err != nil {
		if isNoSuchUpload(err) {
			return fmt.Errorf("minio: complete multipart upload: %w", storage.ErrUploadNotFound)
		}
		return fmt.Errorf("minio: complete multipart upload: %w", err)
	}
	return nil
}

func (b *Backend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := b.core.AbortMultipartUpload(ctx, b.bucket, key, uploadID); err != nil {
		if isNoSuchUpload(err) {
			return fmt.Errorf("minio: abort multipart upload: %w", storage.ErrUploadNotFound)
		}
		return fmt.Errorf("minio: abort multipart upload: %w", err)
	}
	return nil
}

func errorCode(err error) string {
	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		return string(resp.Code)
	}
	return string(miniogo.ToErrorResponse(err).Code)
}

func isNotFound(err error) bool {
	switch errorCode(err) {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func isNoSuchUpload(err error) bool {
	return errorCode(err) == "NoSuchUpload"
}
