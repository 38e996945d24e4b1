package lazycord

import "sync"

// SessionProvider supplies the current bearer credential. The realtime core
// only reads it and listens for changes; storing and refreshing credentials
// is the provider's job.
type SessionProvider interface {
	// Token returns the current bearer credential, or "" when not authenticated.
	Token() string
	// UserID returns the authenticated user's id, or "".
	UserID() string
	// OnChange registers fn to be called after the credential changes.
	OnChange(fn func()) (cancel func())
}

// AuthFailureHandler is implemented by providers that want to hear about a
// credential the broker rejected (e.g. to redirect to a login screen).
type AuthFailureHandler interface {
	AuthFailed(err error)
}

// StaticSession is an in-memory SessionProvider.
type StaticSession struct {
	mu        sync.RWMutex
	token     string
	userID    string
	nextID    int
	listeners map[int]func()
	onFailure func(error)
}

// NewStaticSession creates a session holding token and userID.
func NewStaticSession(token, userID string) *StaticSession {
	return &StaticSession{
		token:     token,
		userID:    userID,
		listeners: make(map[int]func()),
	}
}

func (s *StaticSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *StaticSession) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *StaticSession) OnChange(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SetCredential replaces the credential and notifies listeners when it changed.
func (s *StaticSession) SetCredential(token, userID string) {
	s.mu.Lock()
	changed := s.token != token || s.userID != userID
	s.token = token
	s.userID = userID
	var fns []func()
	if changed {
		for _, fn := range s.listeners {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Clear drops the credential.
func (s *StaticSession) Clear() { s.SetCredential("", "") }

// OnAuthFailure sets the callback invoked when the broker rejects the token.
func (s *StaticSession) OnAuthFailure(fn func(error)) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

func (s *StaticSession) AuthFailed(err error) {
	s.mu.RLock()
	fn := s.onFailure
	s.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
