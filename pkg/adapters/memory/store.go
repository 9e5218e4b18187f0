package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Session
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
}

// Option configures the in-memory store.
type Option func(*Store)

// WithTTL evicts sessions idle for longer than ttl. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new, empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]*domain.Session),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists a copy of the session.
func (s *Store) Save(ctx context.Context, sessionID string, session *domain.Session) error {
	c := session.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = c
	return nil
}

// Load retrieves a copy of the session. Expired sessions are evicted on access.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	session, ok := s.data[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	if s.expired(session) {
		s.mu.Lock()
		if cur, ok := s.data[sessionID]; ok && cur == session {
			delete(s.data, sessionID)
		}
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}

	// Copy on read so callers can't mutate stored sessions through the pointer.
	return session.Clone(), nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns live sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id, session := range s.data {
		if !s.expired(session) {
			sessions = append(sessions, id)
		}
	}
	return sessions, nil
}

// Sweep removes sessions idle since before cutoff, plus any already expired.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, session := range s.data {
		if session.LastActiveAt.Before(cutoff) || s.expired(session) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}

// Purge drops every session.
func (s *Store) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]*domain.Session)
	return nil
}

func (s *Store) expired(session *domain.Session) bool {
	return s.ttl > 0 && s.now().Sub(session.LastActiveAt) > s.ttl
}
