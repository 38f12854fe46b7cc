// Package watch emits the contents of a file whenever it changes on disk.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change is one observed version of a watched file. Exists is false once the
// file has been removed; Data is then nil.
type Change struct {
	Path   string
	Data   []byte
	Exists bool
}

// FileWatcher watches a single file. The parent directory is watched so that
// atomic replacements and files created after Watch are observed.
type FileWatcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// Option configures a FileWatcher
type Option func(*FileWatcher)

// WithDebounce coalesces bursts of events into one emission.
func WithDebounce(d time.Duration) Option {
	return func(w *FileWatcher) { w.debounce = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(w *FileWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewFileWatcher creates a watcher for path
func NewFileWatcher(path string, opts ...Option) *FileWatcher {
	w := &FileWatcher{
		path:     filepath.Clean(path),
		debounce: 50 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the watched path
func (w *FileWatcher) Path() string { return w.path }

// Watch starts watching and returns a channel receiving the current state of
// the file immediately, then after every change. The channel is closed when
// ctx is done.
func (w *FileWatcher) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create fsnotify watcher")
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to watch directory").
			WithDetail("dir", dir)
	}

	out := make(chan Change)
	log := w.logger.With(zap.String("component", "file_watcher"), zap.String("path", w.path))

	go func() {
		defer close(out)
		defer watcher.Close()

		if !w.emit(ctx, out) {
			return
		}

		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				log.Debug("file event", zap.Stringer("op", event.Op))
				fire = time.After(w.debounce)

			case <-fire:
				fire = nil
				if !w.emit(ctx, out) {
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("watch error", zap.Error(err))
			}
		}
	}()

	return out, nil
}

// emit sends the current state of the file; false means ctx is done.
func (w *FileWatcher) emit(ctx context.Context, out chan<- Change) bool {
	change := Change{Path: w.path}
	if data, err := os.ReadFile(w.path); err == nil {
		change.Data, change.Exists = data, true
	} else if !os.IsNotExist(err) {
		w.logger.Warn("unable to read watched file", zap.String("path", w.path), zap.Error(err))
		return true
	}

	select {
	case out <- change:
		return true
	case <-ctx.Done():
		return false
	}
}
