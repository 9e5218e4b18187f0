package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/persistence/codec"
	_ "modernc.org/sqlite"
)

// Store implements ports.SessionStore on a local SQLite database.
type Store struct {
	db    *sql.DB
	codec codec.Codec
	ttl   time.Duration
	now   func() time.Time
}

// Option configures the SQLite store.
type Option func(*Store)

// WithCodec sets the session codec.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithTTL hides and removes sessions idle for longer than ttl.
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

// Open creates (if needed) and opens the database at dbPath.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, codec: codec.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts the session row.
func (s *Store) Save(ctx context.Context, sessionID string, session *domain.Session) error {
	data, err := s.codec.Encode(session)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (id, state, data, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			data = excluded.data,
			last_active_at = excluded.last_active_at`
	_, err = s.db.ExecContext(ctx, query,
		sessionID, string(session.State), data,
		session.CreatedAt.UnixMilli(), session.LastActiveAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load reads the session row. Expired rows are removed and reported as not found.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data, last_active_at FROM sessions WHERE id = ?`, sessionID)

	var data []byte
	var lastActive int64
	if err := row.Scan(&data, &lastActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if s.ttl > 0 && s.now().Sub(time.UnixMilli(lastActive)) > s.ttl {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, domain.ErrSessionNotFound
	}
	return s.codec.Decode(data)
}

// Delete removes the session row.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns live session IDs ordered by last activity.
func (s *Store) List(ctx context.Context) ([]string, error) {
	cutoff := int64(0)
	if s.ttl > 0 {
		cutoff = s.now().Add(-s.ttl).UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE last_active_at >= ? ORDER BY last_active_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Sweep deletes sessions idle since before cutoff.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_active_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Flush checkpoints the write-ahead log into the main database file.
func (s *Store) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint wal: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
