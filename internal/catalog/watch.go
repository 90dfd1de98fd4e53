package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marcus/makemagic/internal/logging"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a catalog file whenever it changes on disk. A file that
// fails to load is reported and the previous catalog stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	onLoad   func(*Catalog)
	onError  func(error)
	log      *logging.Logger
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithErrorHandler is called with every failed reload.
func WithErrorHandler(fn func(error)) WatchOption {
	return func(w *Watcher) { w.onError = fn }
}

// WithLogger sets the watcher's logger.
func WithLogger(l *logging.Logger) WatchOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher returns a Watcher for path that hands each valid reload to onLoad.
func NewWatcher(path string, onLoad func(*Catalog), opts ...WatchOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		onLoad:   onLoad,
		log:      logging.Component("catalog"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file so editors that replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching catalog dir: %w", err)
	}
	w.log.InfoCtx("watching catalog", map[string]any{"path": w.path})

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Err(err).Msg("catalog watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cat, err := Load(w.path)
	if err != nil {
		w.log.Err(err).Str("path", w.path).Msg("catalog reload rejected, keeping previous")
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.log.InfoCtx("catalog reloaded", map[string]any{"path": w.path, "summary": cat.Summary()})
	w.onLoad(cat)
}
