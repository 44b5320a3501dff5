package storage

import (
	"context"
	"io"
	"time"
)

// PutOptions carries per-object attributes passed through to the provider.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// CompletedPart is one entry of the part list sent to the provider when a
// multipart upload is assembled.
type CompletedPart struct {
	Number int
	ETag   string
}

// Backend is the provider-native surface a backend adapter implements. Keys
// are object IDs; the adapter owns bucket naming.
//
// Missing objects are reported by wrapping ErrObjectNotFound, unknown
// multipart uploads by wrapping ErrUploadNotFound. Any other error is treated
// as a provider failure.
type Backend interface {
	// Name identifies the provider ("s3", "minio", "local").
	Name() string

	// Ping checks that the provider and bucket are reachable.
	Ping(ctx context.Context) error

	PutObject(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// DeleteObject reports false without error when the key did not exist.
	DeleteObject(ctx context.Context, key string) (bool, error)

	PresignGetObject(ctx context.Context, key string, expiry time.Duration) (string, error)

	CreateMultipartUpload(ctx context.Context, key string, opts PutOptions) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error)

	// CompleteMultipartUpload receives parts sorted by ascending number.
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}
