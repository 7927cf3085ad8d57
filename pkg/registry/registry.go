// Package registry decides which trained model the API serves and holds it
// in a process-wide slot.
//
// Two deployment modes exist. In MLflow mode the registry is asked for a
// version in strict stage order, Production then Staging then the highest
// version regardless of stage, and the first stage that yields a loadable
// model wins. In local mode a single artifact is read from a storage.Store
// with no stage concept. Either way the result is one Loaded value that is
// swapped into the Slot as a unit.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/HatiCode/iris-mlops/pkg/artifact"
	"github.com/HatiCode/iris-mlops/pkg/models"
)

// ErrNoModel is returned when no source yields a servable model.
var ErrNoModel = errors.New("no model available")

// Loaded is a classifier together with the metadata describing it.
type Loaded struct {
	Model    models.Classifier
	Metadata artifact.Metadata
	LoadedAt time.Time
}

// Source resolves the model to serve.
type Source interface {
	Resolve(ctx context.Context) (*Loaded, error)
}

// Slot holds the currently served model. Readers never observe a partially
// replaced model.
type Slot struct {
	p atomic.Pointer[Loaded]
}

// Load returns the current model or nil when none has been loaded.
func (s *Slot) Load() *Loaded {
	return s.p.Load()
}

// Store replaces the current model.
func (s *Slot) Store(l *Loaded) {
	s.p.Store(l)
}

// Outcome is the result of trying one registry stage.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeEmpty
	OutcomeLoadFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeEmpty:
		return "empty"
	case OutcomeLoadFailed:
		return "load failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Attempt records what happened when a stage was tried.
type Attempt struct {
	Stage   string
	Outcome Outcome
	Version string
	Err     error
}

func (a Attempt) String() string {
	var b strings.Builder
	b.WriteString(a.Stage)
	b.WriteString(": ")
	b.WriteString(a.Outcome.String())
	if a.Version != "" {
		fmt.Fprintf(&b, " (version %s)", a.Version)
	}
	if a.Err != nil {
		b.WriteString(": ")
		b.WriteString(a.Err.Error())
	}
	return b.String()
}

// ResolveError lists every attempt made before giving up. It matches
// ErrNoModel with errors.Is.
type ResolveError struct {
	Attempts []Attempt
}

func (e *ResolveError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s: %s", ErrNoModel, strings.Join(parts, "; "))
}

func (e *ResolveError) Unwrap() error {
	return ErrNoModel
}
