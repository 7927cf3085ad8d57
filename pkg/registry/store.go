package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/HatiCode/iris-mlops/pkg/artifact"
	"github.com/HatiCode/iris-mlops/pkg/storage"
)

// StoreSource reads the served model from a local artifact store.
type StoreSource struct {
	store storage.Store
	name  string
}

// NewStoreSource returns a source reading artifact name from store.
func NewStoreSource(store storage.Store, name string) *StoreSource {
	if name == "" {
		name = storage.DefaultName
	}
	return &StoreSource{store: store, name: name}
}

// Resolve performs a single read. A missing artifact is ErrNoModel.
func (s *StoreSource) Resolve(ctx context.Context) (*Loaded, error) {
	a, found, err := s.store.Get(ctx, s.name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoModel, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: artifact %q not found", ErrNoModel, s.name)
	}
	if err := artifact.CheckShape(a.Model); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoModel, err)
	}

	meta := a.Metadata
	if meta.Source == "" {
		meta.Source = artifact.SourceLocal
	}

	return &Loaded{
		Model:    a.Model,
		Metadata: artifact.Normalize(meta),
		LoadedAt: time.Now(),
	}, nil
}
