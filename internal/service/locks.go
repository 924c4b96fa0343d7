package service

import (
	"sync"

	"github.com/google/uuid"
)

// SessionLocks hands out per-session try-locks so only one play
// exchange runs against a session at a time. A busy session means the
// previous action is still being narrated; callers surface that as a
// conflict instead of queueing.
type SessionLocks struct {
	mu   sync.Mutex
	busy map[uuid.UUID]bool
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{busy: map[uuid.UUID]bool{}}
}

// TryAcquire marks the session busy. Returns false if it already is.
func (l *SessionLocks) TryAcquire(sessionID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[sessionID] {
		return false
	}
	l.busy[sessionID] = true
	return true
}

// Release frees the session.
func (l *SessionLocks) Release(sessionID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.busy, sessionID)
}
