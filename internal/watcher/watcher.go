// Package watcher re-ingests source documents as they appear or change on disk.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester is the part of the ingestion pipeline the watcher drives.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (int, error)
}

// Watcher watches a source directory tree and hands created or modified
// files to an Ingester once writes to them have settled. Removed files are
// only logged; their chunks stay in the store until the next rebuild.
type Watcher struct {
	root       string
	extensions []string
	ingester   Ingester
	debounce   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	stopped bool
	done    chan struct{}
	loop    sync.WaitGroup
	running sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must be quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExtensions limits which files are ingested. Empty means all files.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) { w.extensions = exts }
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, ing Ingester, opts ...Option) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		ingester: ing,
		debounce: defaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers every directory under root and starts the event loop. It
// returns once watches are in place. The loop ends when ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	const op = "watcher.Start"
	info, err := os.Stat(w.root)
	if err != nil {
		return apperr.Errorf(apperr.IngestionError, op, "source directory: %w", err)
	}
	if !info.IsDir() {
		return apperr.Errorf(apperr.IngestionError, op, "not a directory: %s", w.root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return err
	}
	w.logger.Info("watching source directory",
		zap.String("root", w.root),
		zap.Strings("extensions", w.extensions),
		zap.Duration("debounce", w.debounce),
	)

	w.loop.Add(1)
	go w.run(ctx)
	return nil
}

// Stop ends the event loop, drops pending files and waits for in-flight
// ingestion to finish. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.done)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	fsw := w.fsw
	w.mu.Unlock()

	w.loop.Wait()
	if fsw != nil {
		_ = fsw.Close()
	}
	w.running.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.loop.Done()
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !inDir(w.root, path) || hidden(w.root, path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files may land in a new directory before its watch exists.
			if err := w.addTree(path); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
			}
			w.scheduleTree(ctx, path)
			return
		}
		if info.Mode().IsRegular() && matchExtension(path, w.extensions) {
			w.schedule(ctx, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if matchExtension(path, w.extensions) {
			w.logger.Info("source file removed, existing chunks kept until rebuild", zap.String("path", path))
		}
	}
}

func (w *Watcher) addTree(dir string) error {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) scheduleTree(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			w.schedule(ctx, path)
		}
		return nil
	})
}

// schedule (re)starts the quiet-period timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.running.Add(1)
		w.mu.Unlock()
		defer w.running.Done()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	start := time.Now()
	n, err := w.ingester.IngestFile(ctx, path)
	if err != nil {
		w.logger.Warn("re-ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("re-ingested file",
		zap.String("path", path),
		zap.Int("chunks", n),
		zap.Duration("duration", time.Since(start)),
	)
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// hidden reports whether any path element below root starts with a dot.
func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
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
