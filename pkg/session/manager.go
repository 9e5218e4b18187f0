package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/sasya/internal/logging"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a distributed turn lock survives a crashed holder.
const DefaultLockTTL = 2 * time.Minute

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.SessionStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// NewManager creates a new Session Manager with the given persistence store.
// The store starts empty from the manager's point of view; Close tears it down.
func NewManager(store ports.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// NewID returns a fresh session ID.
func (m *Manager) NewID() string {
	return m.newID()
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Turn runs fn with exclusive access to the session. A concurrent turn for the same
// session is rejected with domain.ErrSessionBusy instead of waiting.
func (m *Manager) Turn(ctx context.Context, sessionID string, fn func(context.Context, *Tx) error) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	entry := m.acquire(sessionID)
	if !entry.mu.TryLock() {
		m.release(sessionID)
		return fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
	}
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.TryLock(ctx, sessionID, m.lockTTL)
		if err != nil {
			if errors.Is(err, ports.ErrLockHeld) {
				return fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
			}
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer m.unlock(ctx, sessionID, unlock)
	}

	return fn(ctx, &Tx{m: m, id: sessionID})
}

// WithLock executes a function while holding the lock for the session, waiting for
// any turn in flight to finish.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer m.unlock(ctx, sessionID, unlock)
	}

	return fn(ctx)
}

func (m *Manager) unlock(ctx context.Context, sessionID string, unlock ports.UnlockFunc) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
			"session_id", sessionID,
			"err", err,
		)
	}
}

// Load retrieves an existing session. Reads do not take the turn lock: stores
// return whole committed snapshots.
func (m *Manager) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.store.Load(ctx, sessionID)
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// Reset replaces the session with a fresh one at the initial state, keeping its ID.
func (m *Manager) Reset(ctx context.Context, sessionID string) (*domain.Session, error) {
	s := domain.NewSession(sessionID, m.now())
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Save(ctx, sessionID, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Sweep evicts sessions idle for longer than maxIdle.
func (m *Manager) Sweep(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := m.now().Add(-maxIdle)
	if sw, ok := m.store.(ports.Sweeper); ok {
		return sw.Sweep(ctx, cutoff)
	}

	ids, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		err := m.WithLock(ctx, id, func(ctx context.Context) error {
			s, err := m.store.Load(ctx, id)
			if errors.Is(err, domain.ErrSessionNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if s.LastActiveAt.Before(cutoff) {
				n++
				return m.store.Delete(ctx, id)
			}
			return nil
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// Close tears the store down: durable stores are flushed, volatile ones purged.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	if f, ok := m.store.(ports.Flusher); ok {
		errs = append(errs, f.Flush(ctx))
	} else if p, ok := m.store.(ports.Purger); ok {
		errs = append(errs, p.Purge(ctx))
	}
	if c, ok := m.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Tx gives a turn access to one locked session.
type Tx struct {
	m  *Manager
	id string
}

// ID returns the locked session ID.
func (t *Tx) ID() string {
	return t.id
}

// LoadOrCreate loads the session, or builds a new one at the initial state when it
// does not exist. A new session is persisted on Commit.
func (t *Tx) LoadOrCreate(ctx context.Context) (*domain.Session, bool, error) {
	s, err := t.m.store.Load(ctx, t.id)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return domain.NewSession(t.id, t.m.now()), true, nil
}

// Commit persists the session.
func (t *Tx) Commit(ctx context.Context, s *domain.Session) error {
	if s.ID != t.id {
		return fmt.Errorf("%w: committing session %q under lock for %q", domain.ErrInvariantViolation, s.ID, t.id)
	}
	if !s.State.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUndefinedState, s.State)
	}
	return t.m.store.Save(ctx, t.id, s)
}
