// Package session holds the backend-issued conversation handle.
package session

import "sync"

// Session keeps the first session id the backend returns. The id is never
// generated locally and never replaced once set.
type Session struct {
	mu sync.RWMutex
	id string
}

// New returns a session with no handle.
func New() *Session {
	return &Session{}
}

// ID returns the current handle and whether one is held.
func (s *Session) ID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.id != ""
}

// AdoptIfAbsent sets the handle to id if none is held yet. Returns true if
// id was adopted. Empty ids are ignored.
func (s *Session) AdoptIfAbsent(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		return false
	}
	s.id = id
	return true
}
