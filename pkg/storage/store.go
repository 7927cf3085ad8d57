// Package storage provides local sinks for trained model artifacts.
//
// The trainer always writes one artifact per run to a Store; in local mode
// the serving API reads it back through the same interface. FileStore is the
// default, RedisStore shares the artifact between replicas that have no
// common volume, and MemoryStore backs tests and in-process demos.
package storage

import (
	"context"
	"fmt"

	"github.com/HatiCode/iris-mlops/pkg/artifact"
)

// DefaultName is the artifact name used by the trainer and the API.
const DefaultName = "model"

type Store interface {
	Put(ctx context.Context, name string, a artifact.Artifact) error
	Get(ctx context.Context, name string) (artifact.Artifact, bool, error)
}

// validateName restricts artifact names to characters that are safe both as
// a file name and as a redis key suffix.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("artifact name required")
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return fmt.Errorf("invalid artifact name %q: only alphanumeric, dots, hyphens, and underscores allowed", name)
		}
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
