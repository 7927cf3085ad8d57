package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns the served model: it resolves it at startup and on explicit
// reload requests.
type Manager struct {
	source Source
	slot   Slot
	logger *slog.Logger

	// mu serializes reloads.
	mu    sync.Mutex
	hooks []func(*Loaded, error)
}

// NewManager returns a manager with an empty slot.
func NewManager(source Source, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source: source,
		logger: logger.With("component", "model-manager"),
	}
}

// OnReload registers fn to be called after every Init or Reload with the
// loaded model or the error. Hooks must be registered before the manager is
// shared between goroutines.
func (m *Manager) OnReload(fn func(*Loaded, error)) {
	m.hooks = append(m.hooks, fn)
}

// Current returns the served model, or nil when none is loaded.
func (m *Manager) Current() *Loaded {
	return m.slot.Load()
}

// Init resolves the model at startup. Callers treat an error as fatal.
func (m *Manager) Init(ctx context.Context) error {
	_, err := m.reload(ctx)
	if err != nil {
		return fmt.Errorf("initial model load: %w", err)
	}
	return nil
}

// Reload resolves the model again and swaps it in. On error the previously
// served model stays in place.
func (m *Manager) Reload(ctx context.Context) (*Loaded, error) {
	return m.reload(ctx)
}

func (m *Manager) reload(ctx context.Context) (*Loaded, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded, err := m.source.Resolve(ctx)
	if err != nil {
		if prev := m.slot.Load(); prev != nil {
			m.logger.Warn("model reload failed, keeping current model",
				"current_version", prev.Metadata.Version,
				"error", err,
			)
		}
		m.notify(nil, err)
		return nil, err
	}

	m.slot.Store(loaded)
	m.logger.Info("model loaded",
		"version", loaded.Metadata.Version,
		"source", loaded.Metadata.Source,
		"stage", loaded.Metadata.Stage,
	)
	m.notify(loaded, nil)
	return loaded, nil
}

func (m *Manager) notify(l *Loaded, err error) {
	for _, fn := range m.hooks {
		fn(l, err)
	}
}
