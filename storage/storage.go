package storage

import (
	"context"
	"errors"
	"io"
)

// DefaultContentType is used when an upload does not name one.
const DefaultContentType = "application/octet-stream"

// Sentinel errors reported by Backend implementations. The Service maps them
// to NOT_FOUND and SESSION_NOT_FOUND application errors.
var (
	ErrObjectNotFound = errors.New("storage: object not found")
	ErrUploadNotFound = errors.New("storage: multipart upload not found")
)

// UploadInput describes a single-shot upload.
type UploadInput struct {
	Reader io.Reader
	// Size is the payload length in bytes, or -1 when unknown.
	Size        int64
	FileName    string
	ContentType string
	Metadata    map[string]string
}

// MultipartInput describes a chunked upload to initiate.
type MultipartInput struct {
	FileName    string
	ContentType string
	// FileSize is the expected total size. Informational only.
	FileSize int64
	Metadata map[string]string
}

// Storage is the backend-agnostic file storage contract.
type Storage interface {
	// Upload stores the payload under a freshly generated object ID.
	Upload(ctx context.Context, in UploadInput) (string, error)

	// Download returns the object content. The caller closes the reader.
	Download(ctx context.Context, objectID string) (io.ReadCloser, error)

	// Delete removes the object and reports whether it existed.
	Delete(ctx context.Context, objectID string) (bool, error)

	// PresignedURL returns a URL granting read access for expireSeconds.
	PresignedURL(ctx context.Context, objectID string, expireSeconds int64) (string, error)

	// InitiateMultipartUpload opens an upload session and reserves its object ID.
	InitiateMultipartUpload(ctx context.Context, in MultipartInput) (string, error)

	// UploadPart streams one part of an open session and returns its ETag.
	UploadPart(ctx context.Context, sessionID string, partNumber int, r io.Reader, partSize int64) (string, error)

	// CompleteMultipartUpload assembles the recorded parts into the target object.
	CompleteMultipartUpload(ctx context.Context, sessionID string, parts map[int]string) (string, error)

	// AbortMultipartUpload discards an open session and its uploaded parts.
	AbortMultipartUpload(ctx context.Context, sessionID string) error
}

// AsyncStorage is implemented by storages with a native non-blocking upload
// path. AsyncUploader delegates to it when present.
type AsyncStorage interface {
	UploadAsync(ctx context.Context, in UploadInput) (*Future, error)
}
