package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups the burst of events produced by one artifact write.
const DefaultDebounce = 250 * time.Millisecond

// FileWatcher reloads a Manager whenever the watched artifact file changes.
//
// The parent directory is watched rather than the file itself because the
// file store replaces the artifact with a rename.
type FileWatcher struct {
	path     string
	manager  *Manager
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// NewFileWatcher starts watching the directory of path. Call Run to process
// events and Close to release the watcher.
func NewFileWatcher(path string, m *Manager, logger *slog.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &FileWatcher{
		path:     abs,
		manager:  m,
		watcher:  w,
		debounce: DefaultDebounce,
		logger:   logger.With("component", "file-watcher", "path", abs),
	}, nil
}

// Run blocks until ctx is done, reloading the manager after each settled
// burst of changes to the artifact file.
func (fw *FileWatcher) Run(ctx context.Context) {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != fw.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			timerC = timer.C

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("file watcher error", "error", err)

		case <-timerC:
			timerC = nil
			fw.logger.Info("artifact file changed, reloading model")
			if _, err := fw.manager.Reload(ctx); err != nil {
				fw.logger.Error("reload after file change failed", "error", err)
			}
		}
	}
}

// Close stops the underlying watcher.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
