package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SyncReport summarizes a vault sync.
type SyncReport struct {
	Documents int           `json:"documents"`
	Parsed    int64         `json:"parsed"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Sync walks the vault and brings every document's cache entry up to date so
// search, listing and backlinks cover files no resolve has reached yet.
// Unchanged files cost one read and a fingerprint; entries for deleted files
// are left for the next lookup to drop.
func (e *Engine) Sync(ctx context.Context) (SyncReport, error) {
	start := time.Now()
	before := e.parses.Load()

	metas, err := e.files.List("")
	if err != nil {
		return SyncReport{}, err
	}
	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.Path
	}

	failed := make([]bool, len(ids))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ParseWorkers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if _, err := e.fetch(gCtx, id); err != nil {
				failed[i] = true
				e.logger.Warn("sync: skipped document",
					slog.String("path", id),
					slog.String("error", e.guard.RedactError(err)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SyncReport{}, err
	}
	if err := e.cache.Flush(); err != nil {
		e.logger.Warn("sync: flush failed", slog.String("error", err.Error()))
	}

	report := SyncReport{Documents: len(ids), Parsed: e.parses.Load() - before, Elapsed: time.Since(start)}
	for _, f := range failed {
		if f {
			report.Failed++
		}
	}
	e.logger.Info("sync: complete",
		slog.Int("documents", report.Documents),
		slog.Int64("parsed", report.Parsed),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Elapsed))
	return report, nil
}
