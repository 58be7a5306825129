// Package watcher re-resolves the configured roots when vault files change.
// File events are debounced into batches; every batch that changes content
// starts a new resolution generation, cancelling the one still in flight and
// discarding its result if it completes anyway.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/guard"
	"github.com/starford/ansuz/internal/models"
)

// Change kinds.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// DefaultDebounce coalesces bursts of saves.
const DefaultDebounce = 500 * time.Millisecond

// Engine is the part of the engine the watcher drives.
type Engine interface {
	Refresh(ctx context.Context, id string) (bool, error)
	Resolve(ctx context.Context, roots []string, tokens int) (*models.Scene, error)
	Guard() *guard.Guard
}

// Options configure what is watched and resolved.
type Options struct {
	Dir      string
	Roots    []string
	Budget   int
	Debounce time.Duration
}

// Handlers receive watcher output. Both may be nil.
type Handlers struct {
	OnChange func(Change)
	OnScene  func(gen uint64, scene *models.Scene)
}

// Watcher owns the fsnotify loop and the resolution generations.
type Watcher struct {
	eng    Engine
	logger *slog.Logger
	opts   Options
	h      Handlers
	batch  *batcher

	mu     sync.Mutex
	base   context.Context
	gen    uint64
	cancel context.CancelFunc
	closed bool

	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

// New creates a watcher. Run starts watching; Notify and Trigger work without it.
func New(eng Engine, logger *slog.Logger, opts Options, h Handlers) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	w := &Watcher{eng: eng, logger: logger, opts: opts, h: h, base: context.Background()}
	w.batch = newBatcher(opts.Debounce, w.apply)
	return w
}

// Generation returns the number of resolutions started so far.
func (w *Watcher) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}

// Notify records a change to id; it is applied once the debounce window
// passes without further changes.
func (w *Watcher) Notify(kind, id string) {
	w.batch.add(kind, id)
}

// apply refreshes the changed documents and starts a resolution when any
// content actually changed.
func (w *Watcher) apply(changes []Change) {
	ctx := w.context()
	if ctx.Err() != nil {
		return
	}
	changed := false
	for _, c := range changes {
		ok, err := w.eng.Refresh(ctx, c.ID)
		if err != nil {
			w.logger.Warn("watcher: refresh failed",
				slog.String("path", c.ID),
				slog.String("error", w.eng.Guard().RedactError(err)))
			ok = true
		}
		if !ok {
			continue
		}
		changed = true
		w.logger.Debug("watcher: changed", slog.String("path", c.ID), slog.String("op", c.Kind))
		if w.h.OnChange != nil {
			w.h.OnChange(c)
		}
	}
	if changed && len(w.opts.Roots) > 0 {
		w.Trigger()
	}
}

// Trigger starts a new resolution of the configured roots and returns its
// generation. An older resolution still running is cancelled. After the
// watcher has shut down it does nothing and returns the last generation.
func (w *Watcher) Trigger() uint64 {
	w.mu.Lock()
	if w.closed {
		gen := w.gen
		w.mu.Unlock()
		return gen
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.gen++
	gen := w.gen
	ctx, cancel := context.WithCancel(w.base)
	w.cancel = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer cancel()
		w.resolve(ctx, gen)
	}()
	return gen
}

func (w *Watcher) resolve(ctx context.Context, gen uint64) {
	start := time.Now()
	scene, err := w.eng.Resolve(ctx, w.opts.Roots, w.opts.Budget)

	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	if current := w.Generation(); current != gen {
		w.logger.Debug("watcher: discarded stale resolution",
			slog.Uint64("generation", gen),
			slog.Uint64("current", current))
		return
	}
	if err != nil {
		w.logger.Warn("watcher: resolve failed",
			slog.Uint64("generation", gen),
			slog.String("error", w.eng.Guard().RedactError(err)))
		return
	}
	w.logger.Info("watcher: resolved",
		slog.Uint64("generation", gen),
		slog.String("scene", scene.ID),
		slog.Int("tokens", scene.ExactTokens),
		slog.Duration("elapsed", time.Since(start)))
	if w.h.OnScene != nil {
		w.h.OnScene(gen, scene)
	}
}

func (w *Watcher) context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base
}

// Run watches the vault directory tree until ctx is cancelled. Directories
// created at runtime are added to the watch list.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.opts.Dir); err != nil {
		return err
	}

	w.mu.Lock()
	w.base = ctx
	w.mu.Unlock()
	defer w.shutdown()

	w.logger.Info("watcher: started",
		slog.String("root", w.opts.Dir),
		slog.Int("roots", len(w.opts.Roots)),
		slog.Duration("debounce", w.opts.Debounce))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addDirsRecursive(fw, ev.Name); err != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()))
				return
			}
			w.notifyDir(ev.Name)
			return
		}
	}
	if !strings.HasSuffix(ev.Name, ".md") {
		return
	}
	id, ok := w.rel(ev.Name)
	if !ok {
		return
	}
	switch {
	case ev.Op&fsnotify.Create != 0:
		w.Notify(KindCreated, id)
	case ev.Op&fsnotify.Write != 0:
		w.Notify(KindUpdated, id)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// Rename fires on the old path; the new path arrives as Create.
		w.Notify(KindDeleted, id)
	}
}

// notifyDir reports files already present in a directory that appeared
// after watching started.
func (w *Watcher) notifyDir(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		if id, ok := w.rel(p); ok {
			w.Notify(KindCreated, id)
		}
		return nil
	})
}

func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.opts.Dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) shutdown() {
	w.batch.stop()
	w.mu.Lock()
	w.closed = true
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// addDirsRecursive adds root and all its non-hidden subdirectories.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}
