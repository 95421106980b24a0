// Package watch bridges filesystem change notifications to an Engine's
// invalidation API, so a host can opt into push-based invalidation instead
// of relying solely on post-rebuild invalidation. Nothing in the core
// depends on it.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kakebuild/kake/internal/log"
)

// Invalidator is the slice of Engine's API the watcher needs. A watch.Watcher
// never imports internal/engine directly so it can be tested against a
// fake, the same "probe a small interface" idiom internal/capability uses
// for rule builders.
type Invalidator interface {
	InvalidatePath(path string)
	InvalidateFilesystemView()
}

// defaultDebounce coalesces the burst of events one logical save produces
// (write + chmod + rename-into-place) into a single invalidation.
const defaultDebounce = 150 * time.Millisecond

// Watcher recursively watches a project root and invalidates an Engine's
// filesystem view as changes are observed.
type Watcher struct {
	root   string
	eng    Invalidator
	ignore func(relPath string) bool

	debounce time.Duration

	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	pending  map[string]time.Time
	running  bool
}

// Option configures a Watcher at construction time.
type Option func(*Watcher)

// WithDebounce overrides the default debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithIgnore supplies a predicate skipping paths (root-relative, slash
// separated) that shouldn't trigger invalidation — generated output trees
// are the typical case, since the executor already invalidates those
// itself on a successful build.
func WithIgnore(ignore func(relPath string) bool) Option {
	return func(w *Watcher) { w.ignore = ignore }
}

// New constructs a Watcher over root. Call Start to begin watching.
func New(root string, eng Invalidator, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     root,
		eng:      eng,
		debounce: defaultDebounce,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start walks root adding every directory to the underlying watch, then
// begins the event loop in a goroutine. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		return err
	}

	go w.run(ctx)
	return nil
}

// Stop halts the event loop and releases the underlying OS watch.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.fsw.Close()
}

// addTree walks dir recursively, adding every subdirectory to the watch.
// fsnotify is not recursive on its own; each directory must be added
// individually.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnoreDir(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) shouldIgnoreDir(path string) bool {
	if w.ignore == nil {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return w.ignore(filepath.ToSlash(rel))
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.For("watch").WithField("err", err).Warn("fsnotify error")
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				log.For("watch").WithField("dir", event.Name).WithField("err", err).Warn("failed to watch new directory")
			}
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flush invalidates every path whose most recent event has settled past
// the debounce window.
func (w *Watcher) flush() {
	now := time.Now()

	w.mu.Lock()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, "../") {
			continue
		}
		log.For("watch").WithField("path", rel).Debug("invalidating")
		w.eng.InvalidatePath(rel)
	}
}
