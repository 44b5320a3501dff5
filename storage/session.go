package storage

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// SessionState is the lifecycle state of an upload session.
type SessionState string

const (
	StateOpen       SessionState = "OPEN"
	StateCompleting SessionState = "COMPLETING"
	StateCompleted  SessionState = "COMPLETED"
	StateAborted    SessionState = "ABORTED"
)

// Errors returned by SessionStore implementations.
var (
	ErrSessionNotFound = errors.New("storage: session not found")
	ErrSessionExists   = errors.New("storage: session already exists")
	// ErrStateConflict means the session was not in the state the operation requires.
	ErrStateConflict = errors.New("storage: session state conflict")
)

// Part is one uploaded part of a multipart session.
type Part struct {
	Number     int       `json:"number"`
	ETag       string    `json:"etag"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Session tracks one in-progress chunked upload. ObjectID is fixed at
// creation; UploadID is the provider-native multipart upload handle.
type Session struct {
	ID          string            `json:"id"`
	ObjectID    string            `json:"object_id"`
	FileName    string            `json:"file_name"`
	ContentType string            `json:"content_type"`
	FileSize    int64             `json:"file_size"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadID    string            `json:"upload_id"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	State       SessionState      `json:"state"`
	Parts       map[int]Part      `json:"-"`
}

// SortedParts returns the recorded parts by ascending part number.
func (s *Session) SortedParts() []Part {
	numbers := slices.Sorted(maps.Keys(s.Parts))
	parts := make([]Part, 0, len(numbers))
	for _, n := range numbers {
		parts = append(parts, s.Parts[n])
	}
	return parts
}

// Expired reports whether the session TTL has elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	c.Parts = make(map[int]Part, len(s.Parts))
	maps.Copy(c.Parts, s.Parts)
	return &c
}
