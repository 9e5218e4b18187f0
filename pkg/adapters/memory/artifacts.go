package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const artifactScheme = "mem://"

// ErrArtifactNotFound is returned for unknown artifact references.
var ErrArtifactNotFound = errors.New("artifact not found")

// Artifacts implements ports.ArtifactStore in memory.
type Artifacts struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArtifacts creates an empty artifact store.
func NewArtifacts() *Artifacts {
	return &Artifacts{data: make(map[string][]byte)}
}

// Put stores a copy of data under key and returns its reference.
func (a *Artifacts) Put(ctx context.Context, key string, data []byte) (string, error) {
	if key == "" {
		return "", errors.New("artifact key is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = append([]byte(nil), data...)
	return artifactScheme + key, nil
}

// Get returns a copy of the artifact behind ref.
func (a *Artifacts) Get(ctx context.Context, ref string) ([]byte, error) {
	key, ok := strings.CutPrefix(ref, artifactScheme)
	if !ok {
		return nil, ErrArtifactNotFound
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.data[key]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return append([]byte(nil), data...), nil
}
