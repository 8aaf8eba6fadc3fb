package blacklist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ferro-labs/chatproxy/internal/metrics"
)

// ReloadFunc re-reads configuration and replaces the blacklist. Returning an
// error leaves the previous snapshot active.
type ReloadFunc func() error

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 150 * time.Millisecond

// Watcher triggers a reload whenever the watched configuration file changes.
//
// The parent directory is watched rather than the file itself so that
// atomic saves (write to temp file, rename over) are still observed.
type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// mu serializes reloads from file events and SIGHUP so the last file
	// read is the last list published.
	mu sync.Mutex
}

// NewWatcher creates a watcher for path. Call Start to begin watching.
func NewWatcher(path string, reload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		reload:   reload,
		debounce: DefaultDebounce,
		watcher:  fw,
	}, nil
}

// Reload runs the reload function once and records the result. Concurrent
// calls run one at a time.
func (w *Watcher) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.reload(); err != nil {
		metrics.BlacklistReloads.WithLabelValues("error").Inc()
		slog.Error("blacklist reload failed; keeping previous list", "path", w.path, "error", err)
		return err
	}
	metrics.BlacklistReloads.WithLabelValues("success").Inc()
	slog.Info("blacklist reloaded", "path", w.path)
	return nil
}

// Start blocks until ctx is cancelled or the underlying watcher is closed.
// Run it in its own goroutine.
func (w *Watcher) Start(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			pending = time.After(w.debounce)

		case <-pending:
			pending = nil
			_ = w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
