package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/budget"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
)

// Resolve builds the scene for roots. Each root is an identifier with an
// optional #Anchor selector. A zero budget selects the configured default.
func (e *Engine) Resolve(ctx context.Context, roots []string, tokens int) (*models.Scene, error) {
	limit, err := e.budgetFor(tokens)
	if err != nil {
		return nil, err
	}
	refs, ids, err := rootRefs(roots)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	parsesBefore := e.parses.Load()

	g, err := graph.Build(ctx, refs, e.fetch, e.opts.ParseWorkers)
	if err != nil {
		return nil, err
	}
	if err := g.DetectCycle(); err != nil {
		return nil, err
	}
	packed := budget.Pack(g.Linearize(), limit)

	// Bodies are redacted as one run so a secret split between adjacent
	// segments is caught before the source headers separate the halves.
	text := e.guard.Redact(packed.Frame(e.guard.RedactParts(packed.Bodies())))
	scene := &models.Scene{
		ID:              uuid.NewString(),
		Roots:           ids,
		Budget:          limit,
		Segments:        packed.Segments,
		EstimatedTokens: packed.Estimated,
		ExactTokens:     parser.CountTokens(text),
		Truncated:       packed.Truncated,
		Omitted:         packed.Omitted,
		Warnings:        append(append([]string(nil), g.Warnings...), packed.Warnings...),
		Text:            text,
	}
	for _, w := range scene.Warnings {
		e.logger.Warn("engine: resolve warning",
			slog.String("scene", scene.ID),
			slog.String("warning", e.guard.Redact(w)))
	}
	e.logger.Debug("engine: resolved",
		slog.String("scene", scene.ID),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("segments", len(scene.Segments)),
		slog.Int("estimated_tokens", scene.EstimatedTokens),
		slog.Int("exact_tokens", scene.ExactTokens),
		slog.Int64("parsed", e.parses.Load()-parsesBefore),
		slog.Bool("truncated", scene.Truncated),
		slog.Duration("elapsed", time.Since(start)))
	return scene, nil
}

func rootRefs(roots []string) ([]models.Reference, []string, error) {
	if len(roots) == 0 {
		return nil, nil, apperr.Internal("resolve needs at least one root", nil)
	}
	refs := make([]models.Reference, 0, len(roots))
	ids := make([]string, 0, len(roots))
	for _, raw := range roots {
		ref := models.ParseReference(raw)
		ref.Target = parser.NormalizeID(ref.Target)
		if ref.Target == "" {
			return nil, nil, apperr.NotFound(raw)
		}
		refs = append(refs, ref)
		ids = append(ids, ref.String())
	}
	return refs, ids, nil
}

// Render formats a scene header for terminal output.
func Render(s *models.Scene) string {
	return fmt.Sprintf("<!-- scene %s: %d segments, %d/%d tokens -->\n%s",
		s.ID, len(s.Segments), s.ExactTokens, s.Budget, s.Text)
}
