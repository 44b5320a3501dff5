package storage

import (
	"context"
	"sync"
)

// SessionStore persists upload sessions. Every method is atomic with respect
// to other calls on the same session. Returned sessions are copies.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)

	// PutPart records p, replacing any part with the same number. It fails
	// with ErrStateConflict unless the session is OPEN.
	PutPart(ctx context.Context, id string, p Part) error

	// Transition moves the session from one state to another. check, when
	// non-nil, runs against the current session before the move and its error
	// aborts the transition unchanged. The session after the move is returned.
	Transition(ctx context.Context, id string, from, to SessionState, check func(*Session) error) (*Session, error)

	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}

type memoryEntry struct {
	mu      sync.Mutex
	session *Session
	deleted bool
}

// MemorySessionStore is a process-local SessionStore. Each session has its
// own lock, so operations on different sessions never contend.
type MemorySessionStore struct {
	sessions sync.Map // id -> *memoryEntry
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func (m *MemorySessionStore) Create(_ context.Context, s *Session) error {
	entry := &memoryEntry{session: s.Clone()}
	if _, loaded := m.sessions.LoadOrStore(s.ID, entry); loaded {
		return ErrSessionExists
	}
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	var out *Session
	err := m.with(id, func(e *memoryEntry) error {
		out = e.session.Clone()
		return nil
	})
	return out, err
}

func (m *MemorySessionStore) PutPart(_ context.Context, id string, p Part) error {
	return m.with(id, func(e *memoryEntry) error {
		if e.session.State != StateOpen {
			return ErrStateConflict
		}
		e.session.Parts[p.Number] = p
		return nil
	})
}

func (m *MemorySessionStore) Transition(_ context.Context, id string, from, to SessionState, check func(*Session) error) (*Session, error) {
	var out *Session
	err := m.with(id, func(e *memoryEntry) error {
		if e.session.State != from {
			return ErrStateConflict
		}
		if check != nil {
			if err := check(e.session.Clone()); err != nil {
				return err
			}
		}
		e.session.State = to
		out = e.session.Clone()
		return nil
	})
	return out, err
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil
	}
	e := v.(*memoryEntry)
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	m.sessions.Delete(id)
	return nil
}

func (m *MemorySessionStore) List(_ context.Context) ([]*Session, error) {
	var out []*Session
	m.sessions.Range(func(_, v any) bool {
		e := v.(*memoryEntry)
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
		return true
	})
	return out, nil
}

// with runs fn holding the session's lock.
func (m *MemorySessionStore) with(id string, fn func(*memoryEntry) error) error {
	v, ok := m.sessions.Load(id)
	if !ok {
		return ErrSessionNotFound
	}
	e := v.(*memoryEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return ErrSessionNotFound
	}
	return fn(e)
}
