package ports

import (
	"context"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
)

// SessionStore defines the interface for persisting conversation sessions.
type SessionStore interface {
	// Save persists the session under the given ID.
	Save(ctx context.Context, sessionID string, session *domain.Session) error

	// Load retrieves the session for a given ID.
	// Returns domain.ErrSessionNotFound if the session does not exist or has expired.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes the session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all live sessions.
	List(ctx context.Context) ([]string, error)
}

// Sweeper is implemented by stores that can evict idle sessions on demand.
type Sweeper interface {
	// Sweep removes sessions whose last activity is before cutoff and reports how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Flusher is implemented by durable stores that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Purger is implemented by volatile stores that can drop everything at teardown.
type Purger interface {
	Purge(ctx context.Context) error
}
