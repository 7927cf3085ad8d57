package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/HatiCode/iris-mlops/pkg/artifact"
)

// MemoryStore keeps artifacts in process memory. It backs tests and
// single-process runs where nothing needs to outlive the process.
// It is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]artifact.Artifact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]artifact.Artifact),
	}
}

// Put stores an artifact under name, replacing any existing one.
func (s *MemoryStore) Put(ctx context.Context, name string, a artifact.Artifact) error {
	if err := validateName(name); err != nil {
		return err
	}
	if a.Model == nil || !a.Model.Fitted() {
		return fmt.Errorf("%w: model is not fitted", artifact.ErrInvalid)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[name] = a
	return nil
}

// Get returns the artifact stored under name. found is false when nothing
// is stored.
func (s *MemoryStore) Get(ctx context.Context, name string) (artifact.Artifact, bool, error) {
	select {
	case <-ctx.Done():
		return artifact.Artifact{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, found := s.entries[name]
	return a, found, nil
}
