// Package engine ties the cache, dependency graph, token budgeter and secret
// guard into the operations exposed to the CLI, the HTTP router and the MCP
// server.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/budget"
	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/guard"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// Options bound resolution requests.
type Options struct {
	DefaultBudget int
	MaxBudget     int
	ParseWorkers  int
}

// Engine serves resolution and document operations over one vault.
type Engine struct {
	files  storage.Provider
	cache  *cache.Index
	store  index.Store
	guard  *guard.Guard
	logger *slog.Logger
	opts   Options

	// writeMu serializes metadata edits.
	writeMu sync.Mutex
	parses  atomic.Int64
}

// New creates an engine.
func New(files storage.Provider, c *cache.Index, store index.Store, g *guard.Guard, logger *slog.Logger, opts Options) *Engine {
	if opts.DefaultBudget <= 0 {
		opts.DefaultBudget = budget.DefaultBudget
	}
	if opts.MaxBudget <= 0 {
		opts.MaxBudget = 4 * opts.DefaultBudget
	}
	if opts.ParseWorkers <= 0 {
		opts.ParseWorkers = 4
	}
	return &Engine{
		files:  files,
		cache:  c,
		store:  store,
		guard:  g,
		logger: logger,
		opts:   opts,
	}
}

// Guard returns the redaction filter applied to engine output.
func (e *Engine) Guard() *guard.Guard { return e.guard }

// Parses returns the number of documents parsed since creation.
func (e *Engine) Parses() int64 { return e.parses.Load() }

// CacheStats returns cache activity counters.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// budgetFor applies the default and enforces the configured ceiling.
func (e *Engine) budgetFor(requested int) (int, error) {
	if requested == 0 {
		return e.opts.DefaultBudget, nil
	}
	if requested < 0 || requested > e.opts.MaxBudget {
		return 0, apperr.TokenBudgetExceeded(requested, e.opts.MaxBudget)
	}
	return requested, nil
}

// fetch returns the parsed document for id, parsing only when the content
// fingerprint differs from the cached entry.
func (e *Engine) fetch(_ context.Context, id string) (*models.Document, error) {
	res, err := e.cache.Lookup(id)
	if err != nil {
		return nil, err
	}
	if res.Hit {
		return res.Doc, nil
	}
	e.parses.Add(1)
	doc, err := parser.Parse(id, res.Content)
	if err != nil {
		return nil, err
	}
	e.cache.Store(doc)
	return doc, nil
}

// Refresh reparses id when its content changed and reports whether it did.
// A deleted file drops its cache entry and reports a change.
func (e *Engine) Refresh(ctx context.Context, id string) (bool, error) {
	prev, had := e.cache.Peek(id)
	doc, err := e.fetch(ctx, id)
	if err != nil {
		if apperr.As(err).Kind == apperr.KindNotFound {
			return had, nil
		}
		return false, err
	}
	return !had || prev.Fingerprint != doc.Fingerprint, nil
}

// Close flushes pending cache writes.
func (e *Engine) Close() error {
	if err := e.cache.Close(); err != nil {
		return fmt.Errorf("engine: close cache: %w", err)
	}
	return nil
}
