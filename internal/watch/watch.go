// Package watch re-runs work when source files change.
package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher monitors filesystem paths for changes and invokes a callback with
// the changed paths once events have been quiet for the debounce interval.
type Watcher struct {
	paths    []string
	ignore   []string
	skip     func(path string) bool
	onChange func(changed []string)
	debounce time.Duration
	logger   *log.Logger
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger used for watch errors.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithIgnore excludes directories from watching. Events below them are
// dropped, which keeps generated output from triggering another run.
func WithIgnore(dirs ...string) Option {
	return func(w *Watcher) {
		for _, d := range dirs {
			if abs, err := filepath.Abs(d); err == nil {
				w.ignore = append(w.ignore, abs)
			}
		}
	}
}

// WithSkip drops events for files that skip reports true for, such as
// outputs written next to their sources.
func WithSkip(skip func(path string) bool) Option {
	return func(w *Watcher) {
		w.skip = skip
	}
}

// New creates a Watcher for paths. Directories are watched recursively;
// hidden directories are skipped.
func New(paths []string, debounce time.Duration, onChange func(changed []string), opts ...Option) *Watcher {
	w := &Watcher{
		paths:    paths,
		onChange: onChange,
		debounce: debounce,
		logger:   log.NewWithOptions(io.Discard, log.Options{}),
		pending:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Callbacks run on a timer goroutine,
// one batch at a time.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	defer fsw.Close()

	for _, p := range w.paths {
		info, err := os.Stat(p)
		if err != nil {
			// Path may not exist yet; skip.
			continue
		}
		if info.IsDir() {
			if err := w.addRecursive(p); err != nil {
				w.logger.Warn("failed to watch", "path", p, "err", err)
			}
		} else if err := fsw.Add(p); err != nil {
			w.logger.Warn("failed to watch", "path", p, "err", err)
		}
	}

	var (
		timer  *time.Timer
		flushM sync.Mutex
	)
	flush := func() {
		flushM.Lock()
		defer flushM.Unlock()
		if changed := w.drain(); len(changed) > 0 {
			w.onChange(changed)
		}
	}

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.ignored(event.Name) || (w.skip != nil && w.skip(event.Name)) {
				continue
			}

			// Watch new directories as they appear.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}

			w.mu.Lock()
			w.pending[event.Name] = true
			w.mu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "err", err)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		}
	}
}

// drain returns the pending paths in sorted order and clears them.
func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	clear(w.pending)
	slices.Sort(changed)
	return changed
}

func (w *Watcher) ignored(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range w.ignore {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addRecursive adds a directory and all its subdirectories to the watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || w.ignored(path)) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}
