package service

import "sync"

// SessionStore owns the live sessions keyed by user.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[int64]*Session{}}
}

// Get returns the live session of a user, or nil.
func (st *SessionStore) Get(userID int64) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[userID]
}

// Put stores s and returns the session it replaced, if any.
func (st *SessionStore) Put(s *Session) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	prev := st.sessions[s.UserID]
	st.sessions[s.UserID] = s
	return prev
}

// Remove deletes the user's session only if it is still s.
func (st *SessionStore) Remove(userID int64, s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.sessions[userID]; ok && cur == s {
		delete(st.sessions, userID)
		return true
	}
	return false
}

// Snapshot returns the live sessions at this instant.
func (st *SessionStore) Snapshot() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
