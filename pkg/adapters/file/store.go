package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/persistence/codec"
)

const ext = ".session"

var validID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store implements ports.SessionStore using the local filesystem.
// Each session is one file in BasePath.
type Store struct {
	BasePath string
	codec    codec.Codec
}

// Option configures the file store.
type Option func(*Store)

// WithCodec sets the session codec.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".sasya/sessions".
func New(basePath string, opts ...Option) *Store {
	if basePath == "" {
		basePath = filepath.Join(".sasya", "sessions")
	}
	s := &Store{BasePath: basePath, codec: codec.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("sessionID cannot be empty")
	}
	if !validID.MatchString(sessionID) || strings.HasPrefix(sessionID, ".") {
		return "", fmt.Errorf("invalid sessionID %q", sessionID)
	}
	return filepath.Join(s.BasePath, sessionID+ext), nil
}

// Save persists the session atomically: temp file, fsync, rename.
func (s *Store) Save(ctx context.Context, sessionID string, session *domain.Session) error {
	destPath, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	data, err := s.codec.Encode(session)
	if err != nil {
		return err
	}

	// Same directory keeps the rename on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, ".tmp-"+sessionID+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to session: %w", err)
	}
	return nil
}

// Load retrieves the session from its file.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	p, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return s.codec.Decode(data)
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	p, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns all stored session IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ext))
	}
	return sessions, nil
}

// Sweep removes sessions whose last activity is before cutoff.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		session, err := s.Load(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				continue
			}
			return n, err
		}
		if session.LastActiveAt.Before(cutoff) {
			if err := s.Delete(ctx, id); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
