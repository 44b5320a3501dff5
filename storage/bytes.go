package storage

import (
	"bytes"
	"context"
	"io"
)

// ByteClient offers []byte convenience methods over a streaming Storage, for
// callers that hold whole payloads in memory.
type ByteClient struct {
	storage Storage
}

// NewByteClient wraps s.
func NewByteClient(s Storage) *ByteClient {
	return &ByteClient{storage: s}
}

// UploadBytes stores data and returns its object ID.
func (c *ByteClient) UploadBytes(ctx context.Context, data []byte, fileName, contentType string, metadata map[string]string) (string, error) {
	return c.storage.Upload(ctx, UploadInput{
		Reader:      bytes.NewReader(data),
		Size:        int64(len(data)),
		FileName:    fileName,
		ContentType: contentType,
		Metadata:    metadata,
	})
}

// DownloadBytes reads the whole object.
func (c *ByteClient) DownloadBytes(ctx context.Context, objectID string) ([]byte, error) {
	rc, err := c.storage.Download(ctx, objectID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
