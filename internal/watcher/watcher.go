// Package watcher observes project working trees and turns filesystem
// noise into per-project change notifications. Each tracked project gets a
// debounce window; events inside the window coalesce into one callback with
// the distinct set of changed paths.
//
// Watchers never block: the callback is invoked on its own goroutine and is
// expected to enqueue work (a workflow, an orchestrator call) and return.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the coalescing window between the first observed
// change and the callback. Bursts from git checkouts and bd flushes settle
// well inside five seconds.
const DefaultDebounce = 5 * time.Second

// Handler receives one coalesced change notification per project per
// debounce window. changedPaths holds the distinct paths seen in the
// window, relative to the watched directory, sorted.
type Handler func(projectIdentifier, projectPath string, changedPaths []string)

// Filter decides whether a path (relative to the watched directory) is a
// real change. Database side-files, locks, and engine-written metadata
// return false.
type Filter func(relPath string) bool

// tracked is one project under watch.
type tracked struct {
	identifier  string
	projectPath string // project root, handed to the Handler
	watchDir    string // directory actually watched
}

// event is one filtered filesystem change, mapped to its project.
type event struct {
	identifier string
	relPath    string
}

// pending is the per-project coalescing state owned by the run loop.
type pending struct {
	paths map[string]struct{}
	timer *time.Timer
}

// Watcher turns fsnotify events on tracked directories into debounced
// per-project Handler calls. All state is owned by a single run goroutine;
// Track and Close talk to it over channels.
type Watcher struct {
	name     string
	filter   Filter
	handler  Handler
	debounce time.Duration
	logger   *zap.Logger

	fw *fsnotify.Watcher

	mu      sync.Mutex
	byDir   map[string]*tracked // watchDir -> project
	pending map[string]*pending // identifier -> coalescing state

	fireCh chan string // identifier whose debounce window elapsed
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// Config carries the knobs shared by both watcher kinds.
type Config struct {
	// Debounce is the coalescing window; DefaultDebounce when zero.
	Debounce time.Duration
	Logger   *zap.Logger
}

func newWatcher(name string, filter Filter, handler Handler, cfg Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Watcher{
		name:     name,
		filter:   filter,
		handler:  handler,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With(zap.String("watcher", name)),
		fw:       fw,
		byDir:    make(map[string]*tracked),
		pending:  make(map[string]*pending),
		fireCh:   make(chan string, 16),
	}, nil
}

// Track adds a project's watch directory. Tracking the same project twice
// is a no-op; a missing directory is an error so the caller can log it and
// retry on the next cycle.
func (w *Watcher) Track(identifier, projectPath, watchDir string) error {
	info, err := os.Stat(watchDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "watch", Path: watchDir, Err: os.ErrInvalid}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.byDir[watchDir]; ok {
		return nil
	}
	if err := w.fw.Add(watchDir); err != nil {
		return err
	}
	w.byDir[watchDir] = &tracked{identifier: identifier, projectPath: projectPath, watchDir: watchDir}
	w.logger.Info("tracking", zap.String("project", identifier), zap.String("dir", watchDir))
	return nil
}

// Untrack removes a project's watch. Pending events for it are dropped.
func (w *Watcher) Untrack(identifier string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, t := range w.byDir {
		if t.identifier != identifier {
			continue
		}
		_ = w.fw.Remove(dir)
		delete(w.byDir, dir)
	}
	if p := w.pending[identifier]; p != nil {
		p.timer.Stop()
		delete(w.pending, identifier)
	}
}

// Run consumes filesystem events until the context ends. It returns after
// the event loop has drained; callers usually run it in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case ev, ok := <-w.fw.Events:
				if !ok {
					return
				}
				w.observe(ev)

			case identifier := <-w.fireCh:
				w.fire(identifier)

			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", zap.Error(err))

			case <-ctx.Done():
				return
			}
		}
	}()
}

// observe filters one fsnotify event and folds it into its project's
// pending set, resetting the debounce timer.
func (w *Watcher) observe(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	t := w.resolve(ev.Name)
	if t == nil {
		return
	}
	rel, err := filepath.Rel(t.watchDir, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if !w.filter(rel) {
		return
	}

	// new subdirectories join the watch so nested changes keep arriving
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.fw.Add(ev.Name)
		}
	}

	p := w.pending[t.identifier]
	if p == nil {
		p = &pending{paths: make(map[string]struct{})}
		w.pending[t.identifier] = p
	}
	p.paths[rel] = struct{}{}

	id := t.identifier
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.fireCh <- id:
		default:
			// a fire for this project is already queued; the pending set
			// will be drained when it runs
		}
	})
}

// resolve maps an event path to its tracked project by directory prefix.
// Nested watches (subdirectories added on create) resolve to the tracked
// root they live under.
func (w *Watcher) resolve(path string) *tracked {
	dir := filepath.Dir(path)
	for {
		if t, ok := w.byDir[dir]; ok {
			return t
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

// fire drains a project's pending set and invokes the handler on its own
// goroutine. The run loop never blocks on downstream work.
func (w *Watcher) fire(identifier string) {
	w.mu.Lock()
	p := w.pending[identifier]
	if p == nil || len(p.paths) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.pending, identifier)

	var t *tracked
	for _, cand := range w.byDir {
		if cand.identifier == identifier {
			t = cand
			break
		}
	}
	w.mu.Unlock()
	if t == nil {
		return
	}

	paths := make([]string, 0, len(p.paths))
	for rel := range p.paths {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	w.logger.Info("changes detected",
		zap.String("project", identifier), zap.Int("paths", len(paths)))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.handler(identifier, t.projectPath, paths)
	}()
}

// Close stops the event loop, waits for in-flight handlers, and releases
// the fsnotify watcher. Idempotent.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		err = w.fw.Close()
		w.wg.Wait()

		w.mu.Lock()
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = make(map[string]*pending)
		w.mu.Unlock()
	})
	return err
}
