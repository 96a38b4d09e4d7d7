package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps a current registry, reloading it when the file changes.
// A reload that fails validation keeps the previous registry.
type Watcher struct {
	path     string
	known    TypeChecker
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	onReload func(*Registry)

	mu      sync.RWMutex
	current *Registry
	timer   *time.Timer

	cancel context.CancelFunc
}

// NewWatcher loads the registry once and prepares to watch its directory.
func NewWatcher(path string, known TypeChecker, logger *slog.Logger) (*Watcher, error) {
	reg, err := Load(path, known)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files on save, so watch the directory rather than the file.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		known:    known,
		watcher:  fw,
		debounce: 500 * time.Millisecond,
		logger:   logger,
		current:  reg,
	}, nil
}

// SetOnReload registers a callback invoked after each successful reload.
func (w *Watcher) SetOnReload(fn func(*Registry)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Current returns the most recent valid registry.
func (w *Watcher) Current() *Registry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching for file changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	target := filepath.Clean(w.path)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.schedule()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("registry watch error", "error", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.Reload)
}

// Reload re-reads the file now.
func (w *Watcher) Reload() {
	reg, err := Load(w.path, w.known)
	if err != nil {
		w.logger.Error("registry reload rejected, keeping previous", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = reg
	cb := w.onReload
	w.mu.Unlock()

	w.logger.Info("registry reloaded", "path", w.path, "lakes", reg.Len())
	if cb != nil {
		cb(reg)
	}
}
