package storage

import (
	"strconv"
	"sync"
)

// partLocks serializes writers of the same part of the same session so that
// the ETag recorded for a part is always the ETag of the bytes the backend
// kept. Entries are dropped once no writer holds or waits on them.
type partLocks struct {
	mu    sync.Mutex
	locks map[string]*partLock
}

type partLock struct {
	sync.Mutex
	refs int
}

// lock blocks until the caller owns (sessionID, partNumber) and returns the
// matching unlock.
func (p *partLocks) lock(sessionID string, partNumber int) func() {
	key := sessionID + "#" + strconv.Itoa(partNumber)

	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*partLock)
	}
	l, ok := p.locks[key]
	if !ok {
		l = &partLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}
