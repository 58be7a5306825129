// Package cache implements the content-addressed cache index: parsed document
// shadows keyed by identifier, validated against the current content
// fingerprint on every lookup and persisted in batches to a metadata store.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
)

// MetadataStore persists cache entries across runs.
type MetadataStore interface {
	LoadEntries() ([]models.CacheEntry, error)
	SaveEntries(rows []index.EntryRow) error
	DeleteEntry(path string) error
	Reset() error
}

// Options tune write batching.
type Options struct {
	FlushInterval time.Duration
	FlushCount    int
}

// Result is the outcome of a lookup. On a hit Doc is the cached document
// rebuilt over the current content; on a miss Content and Fingerprint carry
// the freshly read bytes for the caller to parse.
type Result struct {
	Hit         bool
	Doc         *models.Document
	Content     []byte
	Fingerprint string
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Stores    int64 `json:"stores"`
	Flushes   int64 `json:"flushes"`
}

// Index is the shared cache. Lookups take the read lock; stores, evictions and
// flush bookkeeping take the write lock.
type Index struct {
	files  storage.Provider
	meta   MetadataStore
	logger *slog.Logger
	opts   Options

	mu      sync.RWMutex
	entries map[string]models.CacheEntry
	pending map[string]index.EntryRow
	deleted map[string]struct{}
	timer   *time.Timer
	closed  bool

	flushMu sync.Mutex

	hits, misses, evictions, stores, flushes atomic.Int64
}

// New creates an index over files. meta may be nil for a memory-only cache.
func New(files storage.Provider, meta MetadataStore, logger *slog.Logger, opts Options) *Index {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.FlushCount <= 0 {
		opts.FlushCount = 64
	}
	return &Index{
		files:   files,
		meta:    meta,
		logger:  logger,
		opts:    opts,
		entries: make(map[string]models.CacheEntry),
		pending: make(map[string]index.EntryRow),
		deleted: make(map[string]struct{}),
	}
}

// Warm loads persisted entries. An unreadable store is discarded and the
// cache starts cold; the caller never sees the failure.
func (x *Index) Warm() int {
	if x.meta == nil {
		return 0
	}
	entries, err := x.meta.LoadEntries()
	if err != nil {
		x.logger.Warn("cache: persisted entries unreadable, starting cold",
			slog.String("error", err.Error()))
		if resetErr := x.meta.Reset(); resetErr != nil {
			x.logger.Warn("cache: reset failed", slog.String("error", resetErr.Error()))
		}
		return 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		x.entries[e.ID] = e
	}
	x.logger.Debug("cache: warmed", slog.Int("entries", len(entries)))
	return len(entries)
}

// Lookup reads id from the content store and returns the cached document when
// its fingerprint matches. A file that no longer exists has its entry deleted
// and yields a NotFound error. An unreadable file drops the entry so the next
// successful read reparses it.
func (x *Index) Lookup(id string) (Result, error) {
	content, err := x.files.Read(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			x.evict(id, "missing")
			return Result{}, apperr.NotFound(id)
		}
		x.evict(id, "unreadable")
		return Result{}, fmt.Errorf("cache: read %s: %w", id, err)
	}
	fp := checksum.Sum(content)

	x.mu.RLock()
	e, ok := x.entries[id]
	x.mu.RUnlock()

	if ok && e.Fingerprint == fp {
		x.hits.Add(1)
		return Result{Hit: true, Doc: e.Document(content), Content: content, Fingerprint: fp}, nil
	}
	x.misses.Add(1)
	return Result{Content: content, Fingerprint: fp}, nil
}

// Peek returns the entry for id without touching the content store.
func (x *Index) Peek(id string) (models.CacheEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[id]
	return e, ok
}

// Store records a freshly parsed document and schedules its persistence.
func (x *Index) Store(doc *models.Document) {
	e := doc.Entry(time.Now().UTC())
	x.stores.Add(1)

	x.mu.Lock()
	x.entries[doc.ID] = e
	delete(x.deleted, doc.ID)
	x.pending[doc.ID] = index.EntryRow{Entry: e, Body: doc.Body()}
	kick := x.scheduleLocked()
	x.mu.Unlock()

	if kick {
		go x.flushLogged()
	}
}

// Invalidate removes id explicitly, e.g. after an external metadata write.
func (x *Index) Invalidate(id string) {
	x.evict(id, "invalidated")
}

func (x *Index) evict(id, reason string) {
	x.mu.Lock()
	_, had := x.entries[id]
	delete(x.entries, id)
	delete(x.pending, id)
	if had {
		x.deleted[id] = struct{}{}
	}
	kick := had && x.scheduleLocked()
	x.mu.Unlock()

	if had {
		x.evictions.Add(1)
		x.logger.Debug("cache: evicted", slog.String("id", id), slog.String("reason", reason))
	}
	if kick {
		go x.flushLogged()
	}
}

// scheduleLocked arms the interval timer and reports whether the pending
// count reached the flush threshold. Caller holds x.mu.
func (x *Index) scheduleLocked() bool {
	if x.meta == nil || x.closed {
		return false
	}
	if len(x.pending)+len(x.deleted) >= x.opts.FlushCount {
		if x.timer != nil {
			x.timer.Stop()
			x.timer = nil
		}
		return true
	}
	if x.timer == nil {
		x.timer = time.AfterFunc(x.opts.FlushInterval, x.flushLogged)
	}
	return false
}

func (x *Index) flushLogged() {
	if err := x.Flush(); err != nil {
		x.logger.Warn("cache: flush failed", slog.String("error", err.Error()))
	}
}

// Flush writes pending entries and deletions to the metadata store. Failed
// batches are retried with bounded backoff and then requeued.
func (x *Index) Flush() error {
	if x.meta == nil {
		return nil
	}
	x.flushMu.Lock()
	defer x.flushMu.Unlock()

	x.mu.Lock()
	if x.timer != nil {
		x.timer.Stop()
		x.timer = nil
	}
	rows := make([]index.EntryRow, 0, len(x.pending))
	for _, r := range x.pending {
		rows = append(rows, r)
	}
	deleted := make([]string, 0, len(x.deleted))
	for id := range x.deleted {
		deleted = append(deleted, id)
	}
	x.pending = make(map[string]index.EntryRow)
	x.deleted = make(map[string]struct{})
	x.mu.Unlock()

	if len(rows) == 0 && len(deleted) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Entry.ID < rows[j].Entry.ID })
	sort.Strings(deleted)

	err := retry(3, 25*time.Millisecond, func() error {
		for _, id := range deleted {
			if err := x.meta.DeleteEntry(id); err != nil {
				return err
			}
		}
		return x.meta.SaveEntries(rows)
	})
	if err != nil {
		x.requeue(rows, deleted)
		return fmt.Errorf("cache: flush %d entries: %w", len(rows)+len(deleted), err)
	}
	x.flushes.Add(1)
	x.logger.Debug("cache: flushed", slog.Int("saved", len(rows)), slog.Int("deleted", len(deleted)))
	return nil
}

// requeue puts a failed batch back unless newer state superseded it.
func (x *Index) requeue(rows []index.EntryRow, deleted []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range rows {
		if _, newer := x.pending[r.Entry.ID]; newer {
			continue
		}
		if _, gone := x.deleted[r.Entry.ID]; gone {
			continue
		}
		x.pending[r.Entry.ID] = r
	}
	for _, id := range deleted {
		if _, back := x.entries[id]; !back {
			x.deleted[id] = struct{}{}
		}
	}
	if !x.closed && x.timer == nil {
		x.timer = time.AfterFunc(x.opts.FlushInterval, x.flushLogged)
	}
}

// Len returns the number of cached entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Stats returns activity counters.
func (x *Index) Stats() Stats {
	return Stats{
		Hits:      x.hits.Load(),
		Misses:    x.misses.Load(),
		Evictions: x.evictions.Load(),
		Stores:    x.stores.Load(),
		Flushes:   x.flushes.Load(),
	}
}

// Close stops the flush timer and writes any pending state.
func (x *Index) Close() error {
	x.mu.Lock()
	x.closed = true
	if x.timer != nil {
		x.timer.Stop()
		x.timer = nil
	}
	x.mu.Unlock()
	return x.Flush()
}
