package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/HatiCode/iris-mlops/pkg/artifact"
)

// FileStore keeps one JSON document per artifact in a directory:
// name "model" lives at <dir>/model.json.
//
// Writes go to a temporary file in the same directory and are renamed into
// place, so a concurrent reader sees either the old or the new document.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// the first Put.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file backing name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Put(ctx context.Context, name string, a artifact.Artifact) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := artifact.Encode(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}

	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, name string) (artifact.Artifact, bool, error) {
	if err := validateName(name); err != nil {
		return artifact.Artifact{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, false, err
	}

	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return artifact.Artifact{}, false, nil
		}
		return artifact.Artifact{}, false, fmt.Errorf("failed to read artifact: %w", err)
	}

	a, err := artifact.Decode(data)
	if err != nil {
		return artifact.Artifact{}, false, fmt.Errorf("failed to decode %s: %w", s.Path(name), err)
	}
	a.Metadata.Source = artifact.SourceLocal

	return a, true, nil
}
