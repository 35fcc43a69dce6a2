// Package watcher watches source directories with fsnotify and debounces changes
// into a single callback.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Dir is one watched directory. Recursive directories also watch every
// subdirectory, including ones created after Start.
type Dir struct {
	Path      string
	Recursive bool
}

// Watcher calls onChange once activity on matching files has been quiet for
// the debounce interval.
type Watcher struct {
	dirs       []Dir
	extensions []string
	onChange   func()
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	timer      *time.Timer
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for event and error output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet interval before onChange fires. Non-positive values keep the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over dirs. extensions filter which files count as
// changes (empty = all).
func NewWatcher(dirs []Dir, extensions []string, onChange func(), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dirs:       dirs,
		extensions: extensions,
		onChange:   onChange,
		debounce:   defaultDebounce,
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start begins watching. Missing directories are created. It returns once the
// watches are in place; events are handled until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.logger.Debug("watcher starting", zap.Int("dirs", len(w.dirs)), zap.Strings("extensions", w.extensions), zap.Duration("debounce", w.debounce))
	for _, d := range w.dirs {
		if err := w.addDirLocked(d); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx, watcher)
	return nil
}

// Run starts the watcher and blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-w.done:
	}
	w.Stop()
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	dir, ok := w.owner(path)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if dir.Recursive {
				w.handleNewDirectory(path)
			}
			return
		}
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if matchExtension(path, w.extensions) {
		w.schedule()
	}
}

// handleNewDirectory watches a directory created under a recursive root and
// schedules a change if it arrived with matching files already inside.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}

	found := false
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				w.logger.Warn("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			} else {
				w.logger.Debug("watcher added new directory", zap.String("path", path))
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			found = true
		}
		return nil
	})
	if found {
		w.schedule()
	}
}

// owner returns the watched directory an event path belongs to. Non-recursive
// directories only own their direct children.
func (w *Watcher) owner(path string) (Dir, bool) {
	var best Dir
	matched := false
	for _, d := range w.dirs {
		root := filepath.Clean(d.Path)
		if d.Recursive {
			if !inDir(root, path) {
				continue
			}
		} else if filepath.Dir(path) != root && path != root {
			continue
		}
		// Prefer the deepest root so a recursive notes dir wins over the flat workspace root.
		if !matched || len(root) > len(filepath.Clean(best.Path)) {
			best, matched = d, true
		}
	}
	return best, matched
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule (re)arms the single debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.timer = nil
	active := w.started
	w.mu.Unlock()
	if !active || w.onChange == nil {
		return
	}
	w.logger.Debug("watcher firing change callback")
	w.onChange()
}

func (w *Watcher) addDirLocked(d Dir) error {
	root := filepath.Clean(d.Path)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !d.Recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// Directories returns a copy of the watched directories.
func (w *Watcher) Directories() []Dir {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Dir(nil), w.dirs...)
}

// Stop stops the watcher and drops any pending change.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
