package storage

import (
	"strings"

	"github.com/google/uuid"
)

// NewObjectID returns a random 32-character hex identifier followed by the
// extension of fileName, if it has one. The random part carries the 122 bits
// of a version 4 UUID.
func NewObjectID(fileName string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id + Extension(fileName)
}

// Extension returns the substring of fileName from its last '.' to the end,
// or "" when there is no dot or the only dot is the first character.
func Extension(fileName string) string {
	i := strings.LastIndexByte(fileName, '.')
	if i <= 0 {
		return ""
	}
	return fileName[i:]
}

// newSessionID returns an opaque, unguessable session token. It encodes
// nothing about the target object.
func newSessionID() string {
	return uuid.NewString()
}
