package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay is how long the reloader waits after the last change before
// reloading, so an editor's write-rename sequence causes one reload.
const reloadDelay = 500 * time.Millisecond

// Reloadable is reloaded when its watched file changes.
type Reloadable interface {
	ReloadRules() error
}

// Reloader watches the rules file and triggers hot reload.
type Reloader struct {
	watcher *fsnotify.Watcher
	target  Reloadable
	path    string
	delay   time.Duration
	logger  *slog.Logger
}

// NewReloader watches path. The parent directory is watched so that files
// replaced by rename are picked up; it must exist.
func NewReloader(target Reloadable, path string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(path), err)
	}

	return &Reloader{
		watcher: watcher,
		target:  target,
		path:    path,
		delay:   reloadDelay,
		logger:  logger,
	}, nil
}

// Run watches for changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(r.delay, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (r *Reloader) reload() {
	if err := r.target.ReloadRules(); err != nil {
		r.logger.Error("hot-reload failed, keeping current rules", "path", r.path, "error", err)
		return
	}
	r.logger.Info("hot-reload: rules reloaded", "path", r.path)
}
