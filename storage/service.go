package storage

import (
	"context"
	stderrors "errors"
	"io"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/filestore/errors"
	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/observability"
	"github.com/kbukum/filestore/validation"
)

// Service implements Storage on top of one Backend and a session Registry.
type Service struct {
	backend  Backend
	registry *Registry
	cfg      Config
	log      *logger.Logger
	metrics  *observability.StorageMetrics
	parts    partLocks
}

type serviceOptions struct {
	store   SessionStore
	now     func() time.Time
	metrics *observability.StorageMetrics
}

// Option configures a Service.
type Option func(*serviceOptions)

// WithSessionStore replaces the in-memory session store.
func WithSessionStore(store SessionStore) Option {
	return func(o *serviceOptions) { o.store = store }
}

// WithClock sets the time source used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithMetrics records operation and session metrics.
func WithMetrics(m *observability.StorageMetrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// NewService creates a Service. cfg defaults are applied but cfg is not
// validated; use New for the validated path.
func NewService(backend Backend, cfg Config, log *logger.Logger, opts ...Option) *Service {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	o := serviceOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = NewMemorySessionStore()
	}

	l := log.WithComponent("storage")
	reg := NewRegistry(o.store, backend, cfg.Multipart, log)
	reg.now = o.now
	reg.metrics = o.metrics

	return &Service{
		backend:  backend,
		registry: reg,
		cfg:      cfg,
		log:      l,
		metrics:  o.metrics,
	}
}

var _ Storage = (*Service)(nil)

// Backend returns the active backend adapter.
func (s *Service) Backend() Backend { return s.backend }

// Registry returns the multipart session registry.
func (s *Service) Registry() *Registry { return s.registry }

// Ping checks the backend.
func (s *Service) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

// Sweep removes expired multipart sessions. See Registry.Sweep.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ctx, op := s.start(ctx, "Sweep")
	n, err := s.registry.Sweep(ctx)
	return n, op.End(err)
}

func (s *Service) Upload(ctx context.Context, in UploadInput) (string, error) {
	ctx, op := s.start(ctx, "Upload")
	id, err := s.upload(ctx, in)
	op.SetAttributes(attribute.String(observability.AttrObjectID, id))
	return id, op.End(err)
}

func (s *Service) upload(ctx context.Context, in UploadInput) (string, error) {
	err := validation.New().
		Required("file_name", in.FileName).
		Custom(in.Reader != nil, "reader", "is required").
		AtMost("size", in.Size, s.cfg.MaxFileSize).
		Err()
	if err != nil {
		return "", err
	}

	objectID := NewObjectID(in.FileName)
	opts := PutOptions{ContentType: contentTypeOrDefault(in.ContentType), Metadata: in.Metadata}
	if err := s.backend.PutObject(ctx, objectID, in.Reader, in.Size, opts); err != nil {
		return "", s.backendErr("upload", err).WithDetail(logger.FieldObjectID, objectID)
	}

	s.log.WithContext(ctx).Info("object uploaded", logger.Fields(
		logger.FieldObjectID, objectID,
		logger.FieldFileName, in.FileName,
		logger.FieldSize, in.Size,
	))
	return objectID, nil
}

func (s *Service) Download(ctx context.Context, objectID string) (io.ReadCloser, error) {
	ctx, op := s.start(ctx, "Download", attribute.String(observability.AttrObjectID, objectID))
	if err := validation.Required("object_id", objectID); err != nil {
		return nil, op.End(err)
	}
	rc, err := s.backend.GetObject(ctx, objectID)
	if err != nil {
		if stderrors.Is(err, ErrObjectNotFound) {
			return nil, op.End(errors.NotFound("object", objectID).WithCause(err))
		}
		return nil, op.End(s.backendErr("download", err).WithDetail(logger.FieldObjectID, objectID))
	}
	return rc, op.End(nil)
}

func (s *Service) Delete(ctx context.Context, objectID string) (bool, error) {
	ctx, op := s.start(ctx, "Delete", attribute.String(observability.AttrObjectID, objectID))
	if err := validation.Required("object_id", objectID); err != nil {
		return false, op.End(err)
	}
	existed, err := s.backend.DeleteObject(ctx, objectID)
	if err != nil {
		return false, op.End(s.backendErr("delete", err).WithDetail(logger.FieldObjectID, objectID))
	}
	if existed {
		s.log.WithContext(ctx).Info("object deleted", logger.Fields(logger.FieldObjectID, objectID))
	}
	return existed, op.End(nil)
}

func (s *Service) PresignedURL(ctx context.Context, objectID string, expireSeconds int64) (string, error) {
	ctx, op := s.start(ctx, "PresignedURL", attribute.String(observability.AttrObjectID, objectID))
	err := validation.New().
		Required("object_id", objectID).
		Positive("expire_seconds", expireSeconds).
		AtMost("expire_seconds", expireSeconds, s.maxPresignSeconds()).
		Err()
	if err != nil {
		return "", op.End(err)
	}
	url, err := s.backend.PresignGetObject(ctx, objectID, time.Duration(expireSeconds)*time.Second)
	if err != nil {
		return "", op.End(s.backendErr("presign", err).WithDetail(logger.FieldObjectID, objectID))
	}
	return url, op.End(nil)
}

// maxPresignSeconds is the largest expiry that fits a time.Duration, lowered
// to the backend's own cap when it has one.
func (s *Service) maxPresignSeconds() int64 {
	limit := int64(math.MaxInt64 / int64(time.Second))
	if pl, ok := s.backend.(PresignLimiter); ok {
		if d := int64(pl.MaxPresignExpiry() / time.Second); d > 0 && d < limit {
			limit = d
		}
	}
	return limit
}

func (s *Service) InitiateMultipartUpload(ctx context.Context, in MultipartInput) (string, error) {
	ctx, op := s.start(ctx, "InitiateMultipartUpload")
	id, err := s.initiate(ctx, in)
	op.SetAttributes(attribute.String(observability.AttrSessionID, id))
	return id, op.End(err)
}

func (s *Service) initiate(ctx context.Context, in MultipartInput) (string, error) {
	err := validation.New().
		Required("file_name", in.FileName).
		Custom(in.FileSize >= 0, "file_size", "must not be negative").
		AtMost("file_size", in.FileSize, s.cfg.MaxFileSize).
		Err()
	if err != nil {
		return "", err
	}

	in.ContentType = contentTypeOrDefault(in.ContentType)
	objectID := NewObjectID(in.FileName)
	uploadID, err := s.backend.CreateMultipartUpload(ctx, objectID, PutOptions{ContentType: in.ContentType, Metadata: in.Metadata})
	if err != nil {
		return "", s.backendErr("initiate_multipart", err).WithDetail(logger.FieldObjectID, objectID)
	}

	sess, err := s.registry.Create(ctx, in, objectID, uploadID)
	if err != nil {
		if abortErr := s.backend.AbortMultipartUpload(ctx, objectID, uploadID); abortErr != nil {
			s.log.Warn("abort after failed session create", logger.Fields(
				logger.FieldUploadID, uploadID,
				logger.FieldError, abortErr.Error(),
			))
		}
		return "", errors.Internal(err)
	}

	s.log.WithContext(ctx).Info("multipart upload initiated", logger.Fields(
		logger.FieldSessionID, sess.ID,
		logger.FieldObjectID, objectID,
		logger.FieldFileName, in.FileName,
	))
	return sess.ID, nil
}

func (s *Service) UploadPart(ctx context.Context, sessionID string, partNumber int, r io.Reader, partSize int64) (string, error) {
	ctx, op := s.start(ctx, "UploadPart",
		attribute.String(observability.AttrSessionID, sessionID),
		attribute.Int(observability.AttrPartNumber, partNumber),
	)
	etag, err := s.uploadPart(ctx, sessionID, partNumber, r, partSize)
	return etag, op.End(err)
}

func (s *Service) uploadPart(ctx context.Context, sessionID string, partNumber int, r io.Reader, partSize int64) (string, error) {
	err := validation.New().
		Required("session_id", sessionID).
		Range("part_number", partNumber, 1, s.cfg.Multipart.MaxPartNumber).
		Positive("part_size", partSize).
		Custom(r != nil, "reader", "is required").
		Err()
	if err != nil {
		return "", err
	}

	// One writer per part from the backend write through the record.
	unlock := s.parts.lock(sessionID, partNumber)
	defer unlock()

	sess, err := s.registry.Open(ctx, sessionID)
	if err != nil {
		return "", err
	}

	etag, err := s.backend.UploadPart(ctx, sess.ObjectID, sess.UploadID, partNumber, r, partSize)
	if err != nil {
		if stderrors.Is(err, ErrUploadNotFound) {
			return "", errors.SessionNotFound(sessionID).WithCause(err)
		}
		return "", s.backendErr("upload_part", err).WithDetails(map[string]any{
			logger.FieldSessionID:  sessionID,
			logger.FieldPartNumber: partNumber,
		})
	}

	part := Part{Number: partNumber, ETag: etag, Size: partSize, UploadedAt: s.registry.now()}
	if err := s.registry.RecordPart(ctx, sessionID, part); err != nil {
		return "", err
	}

	s.log.Debug("part uploaded", logger.Fields(
		logger.FieldSessionID, sessionID,
		logger.FieldPartNumber, partNumber,
		logger.FieldSize, partSize,
	))
	return etag, nil
}

func (s *Service) CompleteMultipartUpload(ctx context.Context, sessionID string, parts map[int]string) (string, error) {
	ctx, op := s.start(ctx, "CompleteMultipartUpload", attribute.String(observability.AttrSessionID, sessionID))
	id, err := s.complete(ctx, sessionID, parts)
	op.SetAttributes(attribute.String(observability.AttrObjectID, id))
	return id, op.End(err)
}

func (s *Service) complete(ctx context.Context, sessionID string, parts map[int]string) (string, error) {
	if err := validation.Required("session_id", sessionID); err != nil {
		return "", err
	}

	sess, err := s.registry.BeginComplete(ctx, sessionID, parts)
	if err != nil {
		return "", err
	}

	recorded := sess.SortedParts()
	completed := make([]CompletedPart, len(recorded))
	for i, p := range recorded {
		completed[i] = CompletedPart{Number: p.Number, ETag: p.ETag}
	}

	if err := s.backend.CompleteMultipartUpload(ctx, sess.ObjectID, sess.UploadID, completed); err != nil {
		if stderrors.Is(err, ErrUploadNotFound) {
			// the native upload is gone; the session can never complete
			_ = s.registry.Remove(ctx, sessionID)
			return "", errors.SessionNotFound(sessionID).WithCause(err)
		}
		if reopenErr := s.registry.ReopenAfterFailure(ctx, sessionID); reopenErr != nil {
			s.log.Warn("reopen after failed completion", logger.MergeWithError(
				logger.Fields(logger.FieldSessionID, sessionID), reopenErr))
		}
		return "", s.backendErr("complete_multipart", err).WithDetail(logger.FieldSessionID, sessionID)
	}

	if err := s.registry.FinishComplete(ctx, sessionID); err != nil {
		s.log.Warn("session cleanup after completion failed", logger.MergeWithError(
			logger.Fields(logger.FieldSessionID, sessionID), err))
	}

	s.log.WithContext(ctx).Info("multipart upload completed", logger.Fields(
		logger.FieldSessionID, sessionID,
		logger.FieldObjectID, sess.ObjectID,
		logger.FieldCount, len(completed),
	))
	return sess.ObjectID, nil
}

func (s *Service) AbortMultipartUpload(ctx context.Context, sessionID string) error {
	ctx, op := s.start(ctx, "AbortMultipartUpload", attribute.String(observability.AttrSessionID, sessionID))
	return op.End(s.abort(ctx, sessionID))
}

func (s *Service) abort(ctx context.Context, sessionID string) error {
	if err := validation.Required("session_id", sessionID); err != nil {
		return err
	}

	sess, err := s.registry.BeginAbort(ctx, sessionID)
	if err != nil {
		return err
	}

	err = s.backend.AbortMultipartUpload(ctx, sess.ObjectID, sess.UploadID)
	if err != nil && !stderrors.Is(err, ErrUploadNotFound) {
		// stays ABORTED; the sweep retries once the session expires
		return s.backendErr("abort_multipart", err).WithDetail(logger.FieldSessionID, sessionID)
	}
	if err := s.registry.Remove(ctx, sessionID); err != nil {
		return errors.Internal(err)
	}

	s.log.WithContext(ctx).Info("multipart upload aborted", logger.Fields(logger.FieldSessionID, sessionID))
	return nil
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *observability.Operation) {
	return observability.StartOperation(ctx, s.metrics, s.backend.Name(), name, attrs...)
}

// backendErr wraps a provider failure as BACKEND_UNAVAILABLE and logs it.
func (s *Service) backendErr(operation string, err error) *errors.AppError {
	s.log.Error("backend call failed", logger.Fields(
		logger.FieldBackend, s.backend.Name(),
		logger.FieldOperation, operation,
		logger.FieldError, err.Error(),
	))
	return errors.BackendUnavailable(s.backend.Name(), operation, err)
}

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return DefaultContentType
	}
	return ct
}
