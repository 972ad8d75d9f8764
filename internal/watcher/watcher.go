// Package watcher ingests files dropped into watched directories, each
// directory feeding its own namespace.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Root is a watched directory and the namespace its files are ingested into.
type Root struct {
	Directory string
	Namespace string
}

// IngestFunc is called once per settled file with the namespace of its root.
type IngestFunc func(ctx context.Context, namespace, path string)

// Watcher watches directory roots and calls an IngestFunc for created or
// written files after they have been quiet for the debounce interval.
// Removals are logged only; ingested entries are never deleted.
type Watcher struct {
	roots       []Root
	extensions  []string
	recursive   bool
	ingest      IngestFunc
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	ctx         context.Context
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	rootPaths   map[string][]string // root dir -> directories added to fsnotify
	done        chan struct{}
	started     bool
	logger      *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the quiet interval before a file is ingested.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over roots. extensions filters files (empty means all).
func NewWatcher(roots []Root, extensions []string, recursive bool, ingest IngestFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		extensions:  extensions,
		recursive:   recursive,
		ingest:      ingest,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		rootPaths:   make(map[string][]string),
		logger:      zap.NewNop(),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r.Directory); err == nil {
			r.Directory = abs
		}
		w.roots = append(w.roots, Root{Directory: filepath.Clean(r.Directory), Namespace: r.Namespace})
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = fw
	w.ctx = ctx
	w.logger.Debug("watcher starting",
		zap.Int("roots", len(w.roots)),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	for _, r := range w.roots {
		if err := w.addRootLocked(r.Directory); err != nil {
			_ = fw.Close()
			w.watcher = nil
			return err
		}
	}
	w.started = true
	w.done = make(chan struct{})
	go w.run(ctx, w.done, fw.Events, fw.Errors)
	return nil
}

func (w *Watcher) run(ctx context.Context, done <-chan struct{}, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	ns, ok := w.namespaceFor(path)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path)
			}
			return
		}
		if matchExtension(path, w.extensions) {
			w.debounceIngest(ns, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		if matchExtension(path, w.extensions) {
			w.logger.Info("watched file removed; its entries remain in the namespace",
				zap.String("namespace", ns), zap.String("path", path))
		}
	}
}

// handleNewDirectory watches a directory created under a root and ingests what it already holds.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.mu.Lock()
	fw := w.watcher
	recursive := w.recursive
	w.mu.Unlock()
	if fw == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	w.syncDirectory(dirPath)
}

// namespaceFor returns the namespace of the deepest root containing path.
func (w *Watcher) namespaceFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	best := -1
	for i, r := range w.roots {
		if path != r.Directory && !inDir(r.Directory, path) {
			continue
		}
		if best < 0 || len(r.Directory) > len(w.roots[best].Directory) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return w.roots[best].Namespace, true
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

func (w *Watcher) debounceIngest(ns, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.logger.Debug("watcher ingesting settled file", zap.String("namespace", ns), zap.String("path", path))
		w.call(ctx, ns, path)
	})
}

func (w *Watcher) call(ctx context.Context, ns, path string) {
	if w.ingest == nil || ctx == nil || ctx.Err() != nil {
		return
	}
	w.ingest(ctx, ns, path)
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// AddDirectory starts watching dir for namespace ns and, if syncExisting is
// set, ingests the files it already holds in the background.
func (w *Watcher) AddDirectory(dir, ns string, syncExisting bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return fmt.Errorf("watcher not started")
	}
	for _, r := range w.roots {
		if r.Directory == abs {
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, Root{Directory: abs, Namespace: ns})
	w.logger.Debug("watcher directory added",
		zap.String("path", abs), zap.String("namespace", ns), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", root, err)
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	} else {
		if err := w.watcher.Add(root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		paths = append(paths, root)
	}
	w.rootPaths[root] = paths
	return nil
}

// syncDirectory ingests the matching files under dir, honoring the recursive setting.
func (w *Watcher) syncDirectory(dir string) {
	ns, ok := w.namespaceFor(dir)
	if !ok {
		return
	}
	w.mu.Lock()
	ctx := w.ctx
	recursive := w.recursive
	w.mu.Unlock()
	w.logger.Debug("watcher syncing directory", zap.String("path", dir), zap.String("namespace", ns))
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchExtension(path, w.extensions) {
			return nil
		}
		// a nested root owns its own files
		if owner, _ := w.namespaceFor(path); owner != ns {
			return nil
		}
		w.call(ctx, ns, path)
		return nil
	})
}

// RemoveDirectory stops watching dir. Its ingested entries stay.
func (w *Watcher) RemoveDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r.Directory == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.watcher != nil {
		for _, p := range w.rootPaths[abs] {
			_ = w.watcher.Remove(p)
		}
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Debug("watcher directory removed", zap.String("path", abs))
	return nil
}

// Roots returns a copy of the watched roots.
func (w *Watcher) Roots() []Root {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Root(nil), w.roots...)
}

// SyncExistingFiles ingests the files already present in every root.
// Call after Start.
func (w *Watcher) SyncExistingFiles() {
	for _, r := range w.Roots() {
		w.syncDirectory(r.Directory)
	}
}

// Stop stops the watcher and releases resources. A stopped watcher can be
// started again.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	close(w.done)
	w.mu.Unlock()
}
