package veil

import (
	"sync"
)

// Session carries the current user identity and auth state explicitly
// through every operation, instead of ambient globals. Logout is the
// only thing that can cancel an output-confirmation wait, so the
// collector and retry loops consult it on every iteration.
type Session struct {
	mu       sync.RWMutex
	userID   string
	loggedIn bool
}

func NewSession(userID string) *Session {
	return &Session{userID: userID, loggedIn: true}
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

func (s *Session) Logout() {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
}

// RequireLogin returns a checked logged-out error when the session has
// ended, so callers fail permanently instead of waiting forever.
func (s *Session) RequireLogin() error {
	if !s.LoggedIn() {
		return NewErr(LoggedOut, "session is logged out")
	}
	return nil
}
