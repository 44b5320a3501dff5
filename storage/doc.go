// Package storage is a backend-agnostic file storage facade: single-shot and
// chunked (multipart) uploads, downloads, deletion and time-limited access
// URLs, behaving the same whichever provider is active.
//
// Service implements Storage on top of one Backend adapter. Chunked uploads
// are tracked by a Registry of upload sessions kept in a SessionStore; each
// session has an opaque ID and stores the provider's native upload ID, so
// nothing is derived from identifier strings. Expired sessions are aborted
// and removed by a periodic sweep.
//
// # Backends
//
//   - storage/s3: Amazon S3 and S3-compatible services (aws-sdk-go-v2)
//   - storage/minio: MinIO and S3-compatible services (minio-go)
//   - storage/local: local filesystem with signed URLs, for development
//
// Importing a backend package registers it with the selector. Selecting a
// provider with no adapter fails at startup with BACKEND_NOT_IMPLEMENTED.
//
// # Sessions
//
// Sessions live in memory by default. Multi-instance deployments pass a
// shared store, such as storage/redisstore, with WithSessionStore.
//
// # Configuration
//
//	storage:
//	  provider: "minio"
//	  enabled: true
//	  max_file_size: 104857600
//	  multipart:
//	    session_ttl: 24h
//	    sweep_interval: 5m
//	    max_part_number: 10000
//	  async:
//	    workers: 8
//	  sessions:
//	    store: "memory"
package storage
