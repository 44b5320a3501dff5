package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/filestore/errors"
	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/observability"
)

// Registry owns the multipart session lifecycle on top of a SessionStore.
// It holds session metadata and part ETags only, never object bytes.
type Registry struct {
	store       SessionStore
	backend     Backend
	ttl         time.Duration
	interval    time.Duration
	minPartSize int64
	now         func() time.Time
	log         *logger.Logger
	metrics     *observability.StorageMetrics
}

// NewRegistry creates a registry. backend is used by Sweep to abort the
// native uploads of expired sessions.
func NewRegistry(store SessionStore, backend Backend, cfg MultipartConfig, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	cfg.ApplyDefaults()
	r := &Registry{
		store:       store,
		backend:     backend,
		ttl:         cfg.SessionTTL,
		interval:    cfg.SweepInterval,
		minPartSize: cfg.MinPartSize,
		now:         time.Now,
		log:         log.WithComponent("multipart.registry"),
	}
	if r.minPartSize == 0 {
		if ms, ok := backend.(MinPartSizer); ok {
			r.minPartSize = ms.MinPartSize()
		}
	}
	return r
}

// Store returns the underlying session store.
func (r *Registry) Store() SessionStore { return r.store }

// Create opens a session for an upload the backend has already initiated.
func (r *Registry) Create(ctx context.Context, in MultipartInput, objectID, uploadID string) (*Session, error) {
	now := r.now()
	s := &Session{
		ID:          newSessionID(),
		ObjectID:    objectID,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		FileSize:    in.FileSize,
		Metadata:    in.Metadata,
		UploadID:    uploadID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
		State:       StateOpen,
		Parts:       make(map[int]Part),
	}
	if err := r.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	r.metrics.SessionOpened(ctx)
	r.log.Debug("session created", logger.Fields(
		logger.FieldSessionID, s.ID,
		logger.FieldObjectID, s.ObjectID,
	))
	return s, nil
}

// Open returns the session if it exists, is OPEN and has not expired.
func (r *Registry) Open(ctx context.Context, id string) (*Session, error) {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, r.storeErr(id, err)
	}
	if s.State != StateOpen || s.Expired(r.now()) {
		return nil, errors.SessionNotFound(id)
	}
	return s, nil
}

// RecordPart stores p, replacing an earlier upload of the same part number.
func (r *Registry) RecordPart(ctx context.Context, id string, p Part) error {
	if err := r.store.PutPart(ctx, id, p); err != nil {
		return r.storeErr(id, err)
	}
	return nil
}

// BeginComplete validates parts against the recorded parts and moves the
// session to COMPLETING. On any mismatch the session is left untouched.
func (r *Registry) BeginComplete(ctx context.Context, id string, parts map[int]string) (*Session, error) {
	now := r.now()
	s, err := r.store.Transition(ctx, id, StateOpen, StateCompleting, func(s *Session) error {
		if s.Expired(now) {
			return errors.SessionNotFound(id)
		}
		return r.checkParts(s, parts)
	})
	if err != nil {
		return nil, r.storeErr(id, err)
	}
	return s, nil
}

func (r *Registry) checkParts(s *Session, parts map[int]string) error {
	if len(parts) == 0 {
		return errors.IncompleteUpload(s.ID, "no parts supplied")
	}
	recorded := s.SortedParts()
	for _, p := range recorded {
		if _, ok := parts[p.Number]; !ok {
			return errors.IncompleteUpload(s.ID, fmt.Sprintf("part %d was uploaded but not listed", p.Number))
		}
	}
	for n, etag := range parts {
		p, ok := s.Parts[n]
		if !ok {
			return errors.IncompleteUpload(s.ID, fmt.Sprintf("part %d was not uploaded", n)).
				WithDetail(logger.FieldPartNumber, n)
		}
		if normalizeETag(p.ETag) != normalizeETag(etag) {
			return errors.IncompleteUpload(s.ID, fmt.Sprintf("part %d ETag does not match", n)).
				WithDetail(logger.FieldPartNumber, n)
		}
	}
	if r.minPartSize > 0 {
		for _, p := range recorded[:len(recorded)-1] {
			if p.Size < r.minPartSize {
				return errors.IncompleteUpload(s.ID,
					fmt.Sprintf("part %d is %d bytes, below the minimum part size of %d", p.Number, p.Size, r.minPartSize)).
					WithDetail(logger.FieldPartNumber, p.Number)
			}
		}
	}
	return nil
}

// FinishComplete marks the session COMPLETED and removes it.
func (r *Registry) FinishComplete(ctx context.Context, id string) error {
	if _, err := r.store.Transition(ctx, id, StateCompleting, StateCompleted, nil); err != nil {
		return r.storeErr(id, err)
	}
	return r.Remove(ctx, id)
}

// ReopenAfterFailure returns a COMPLETING session to OPEN after the backend
// failed to assemble it, so completion can be retried.
func (r *Registry) ReopenAfterFailure(ctx context.Context, id string) error {
	if _, err := r.store.Transition(ctx, id, StateCompleting, StateOpen, nil); err != nil {
		return r.storeErr(id, err)
	}
	return nil
}

// BeginAbort moves an OPEN session to ABORTED.
func (r *Registry) BeginAbort(ctx context.Context, id string) (*Session, error) {
	s, err := r.store.Transition(ctx, id, StateOpen, StateAborted, nil)
	if err != nil {
		return nil, r.storeErr(id, err)
	}
	return s, nil
}

// Remove deletes the session from the store.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	r.metrics.SessionClosed(ctx)
	return nil
}

// Sweep aborts and removes every expired session that is OPEN, or ABORTED
// from an earlier failed abort. A session whose backend abort fails stays
// ABORTED for the next sweep. It returns the number of sessions removed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	sessions, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	now := r.now()
	removed := 0
	for _, s := range sessions {
		if !s.Expired(now) {
			continue
		}
		switch s.State {
		case StateOpen:
			if _, err := r.store.Transition(ctx, s.ID, StateOpen, StateAborted, nil); err != nil {
				// completed or aborted concurrently
				continue
			}
		case StateAborted:
		default:
			continue
		}

		if err := r.backend.AbortMultipartUpload(ctx, s.ObjectID, s.UploadID); err != nil && !stderrors.Is(err, ErrUploadNotFound) {
			r.log.Warn("abort of expired upload failed", logger.Fields(
				logger.FieldSessionID, s.ID,
				logger.FieldUploadID, s.UploadID,
				logger.FieldError, err.Error(),
			))
			continue
		}
		if err := r.Remove(ctx, s.ID); err != nil {
			r.log.Warn("remove of expired session failed", logger.MergeWithError(
				logger.Fields(logger.FieldSessionID, s.ID), err))
			continue
		}
		removed++
	}

	r.metrics.SessionsExpired(ctx, removed)
	if removed > 0 {
		r.log.Info("expired sessions swept", logger.Fields(logger.FieldCount, removed))
	}
	return removed, nil
}

// Run sweeps every sweep interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error("session sweep failed", logger.Fields(logger.FieldError, err.Error()))
			}
		}
	}
}

// storeErr maps store sentinels to SESSION_NOT_FOUND and passes application
// errors from check hooks through.
func (r *Registry) storeErr(id string, err error) error {
	if errors.IsAppError(err) {
		return err
	}
	if stderrors.Is(err, ErrSessionNotFound) || stderrors.Is(err, ErrStateConflict) {
		return errors.SessionNotFound(id)
	}
	return errors.Internal(fmt.Errorf("session %s: %w", id, err))
}

func normalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}
