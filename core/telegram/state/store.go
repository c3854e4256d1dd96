package state

import "sync"

// Store holds one session value per user. Values are copied in and out, so
// callers mutate a local copy and Put it back.
type Store[S any] struct {
	mu       sync.RWMutex
	sessions map[int64]S
	fresh    func() S
}

// NewStore constructs an in-memory Store. fresh builds the session returned
// for users that have none yet.
func NewStore[S any](fresh func() S) *Store[S] {
	if fresh == nil {
		fresh = func() S {
			var zero S
			return zero
		}
	}
	return &Store[S]{sessions: make(map[int64]S), fresh: fresh}
}

// Get returns the user's session, or a fresh one if none exists.
func (m *Store[S]) Get(userID int64) S {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if session, ok := m.sessions[userID]; ok {
		return session
	}
	return m.fresh()
}

// Put replaces the user's session.
func (m *Store[S]) Put(userID int64, session S) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = session
}

// Has reports whether a session was stored for the user.
func (m *Store[S]) Has(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[userID]
	return ok
}

// Clear removes the user's session.
func (m *Store[S]) Clear(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// Len returns the number of stored sessions.
func (m *Store[S]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
