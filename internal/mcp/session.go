package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pgcrud/pgcrud/internal/gateway"
	"github.com/pgcrud/pgcrud/internal/token"
)

// Session is one MCP client connection. The credential presented at
// initialize is bound here and reused for every subsequent call on the
// session; each session therefore sees only its own filtered view of
// the model.
type Session struct {
	ID        string
	Auth      *gateway.RequestAuth
	CreatedAt time.Time

	// events carries server-to-client notifications for the GET stream.
	events chan []byte
	closed chan struct{}
	once   sync.Once
}

// Claims returns the session's permission claims (nil is full access).
func (s *Session) Claims() *token.Claims {
	if s.Auth == nil {
		return nil
	}
	return s.Auth.Claims
}

// Close releases the session's stream.
func (s *Session) Close() {
	s.once.Do(func() { close(s.closed) })
}

// Done reports session closure to stream writers.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// SessionTable is the concurrent session registry keyed by session id.
type SessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionTable creates an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*Session)}
}

// Create registers a new session bound to the given credential state.
func (t *SessionTable) Create(auth *gateway.RequestAuth) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Auth:      auth,
		CreatedAt: time.Now(),
		events:    make(chan []byte, 16),
		closed:    make(chan struct{}),
	}
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
	return s
}

// Get looks up a session by id.
func (t *SessionTable) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Remove closes and deletes a session.
func (t *SessionTable) Remove(id string) bool {
	t.mu.Lock()
	s, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Len reports the number of live sessions.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// CloseAll closes every session. Called on shutdown.
func (t *SessionTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		s.Close()
		delete(t.sessions, id)
	}
}

type sessionContextKey struct{}

// WithSession attaches a session to a context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFrom retrieves the session from a context.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	return s, ok
}
