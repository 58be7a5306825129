package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
)

// Editable metadata fields.
const (
	FieldTitle    = "title"
	FieldStatus   = "status"
	FieldPriority = "priority"
	FieldAssignee = "assignee"
)

// DocumentView is the fetch and update response.
type DocumentView struct {
	ID       string   `json:"id"`
	Title    string   `json:"title,omitempty"`
	Status   string   `json:"status,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Anchor   string   `json:"anchor,omitempty"`
	Anchors  []string `json:"anchors"`
	Refs     []string `json:"refs"`
	Tokens   int      `json:"tokens"`
	Content  string   `json:"content"`
}

func (e *Engine) view(doc *models.Document, anchor *models.Anchor) *DocumentView {
	v := &DocumentView{
		ID:       doc.ID,
		Title:    doc.Meta.Title,
		Status:   doc.Meta.Status,
		Priority: doc.Meta.Priority,
		Assignee: doc.Meta.Assignee,
		Tags:     doc.Meta.Tags,
		Anchors:  make([]string, 0, len(doc.Anchors)),
		Refs:     make([]string, 0, len(doc.Refs)),
	}
	for _, a := range doc.Anchors {
		v.Anchors = append(v.Anchors, a.Name)
	}
	for _, r := range doc.Refs {
		v.Refs = append(v.Refs, r.String())
	}
	content := string(doc.Content)
	if anchor != nil {
		v.Anchor = anchor.Name
		content = doc.Section(*anchor)
	}
	v.Content = e.guard.Redact(content)
	v.Tokens = parser.EstimateTokens(v.Content)
	return v
}

// Fetch returns one document, or only the section under anchor when given.
func (e *Engine) Fetch(ctx context.Context, id, anchor string) (*DocumentView, error) {
	id = parser.NormalizeID(id)
	doc, err := e.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if anchor == "" {
		return e.view(doc, nil), nil
	}
	a, ok := doc.FindAnchor(anchor)
	if !ok {
		return nil, apperr.NotFound(id + "#" + anchor)
	}
	return e.view(doc, &a), nil
}

// Search runs a ranked free-text lookup over the persisted index. Pending
// cache writes are flushed first so recent edits are searchable.
func (e *Engine) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []index.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if err := e.cache.Flush(); err != nil {
		e.logger.Warn("engine: flush before search failed", slog.String("error", err.Error()))
	}
	results, err := e.store.Search(query, limit)
	if err != nil {
		return nil, apperr.Internal("search failed", err)
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	for i := range results {
		results[i].Title = e.guard.Redact(results[i].Title)
		results[i].Snippet = e.guard.Redact(results[i].Snippet)
	}
	return results, nil
}

// List returns metadata rows filtered by status without walking the graph.
// Rows whose file has disappeared are dropped from the cache and skipped.
func (e *Engine) List(_ context.Context, status string) ([]index.ListRow, error) {
	if err := e.cache.Flush(); err != nil {
		e.logger.Warn("engine: flush before list failed", slog.String("error", err.Error()))
	}
	rows, err := e.store.ListByStatus(status)
	if err != nil {
		return nil, apperr.Internal("list failed", err)
	}
	out := make([]index.ListRow, 0, len(rows))
	for _, r := range rows {
		ok, err := e.files.Exists(r.Path)
		if err != nil {
			return nil, apperr.Internal("list failed", err)
		}
		if !ok {
			e.cache.Invalidate(r.Path)
			continue
		}
		r.Title = e.guard.Redact(r.Title)
		out = append(out, r)
	}
	return out, nil
}

// Backlinks returns the documents that reference id.
func (e *Engine) Backlinks(_ context.Context, id string) ([]string, error) {
	if err := e.cache.Flush(); err != nil {
		e.logger.Warn("engine: flush before backlinks failed", slog.String("error", err.Error()))
	}
	links, err := e.store.Backlinks(parser.NormalizeID(id))
	if err != nil {
		return nil, apperr.Internal("backlinks failed", err)
	}
	if links == nil {
		links = []string{}
	}
	return links, nil
}

// UpdateMetadata sets one metadata field and rewrites the file atomically.
// Edits are serialized; the cache entry is invalidated and rebuilt from the
// written content.
func (e *Engine) UpdateMetadata(ctx context.Context, id, field, value string) (*DocumentView, error) {
	id = parser.NormalizeID(id)
	field = strings.ToLower(strings.TrimSpace(field))
	value = strings.TrimSpace(value)
	if err := validateField(field, value); err != nil {
		return nil, apperr.InvalidMetadata(apperr.Location{Path: id}, err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	content, err := e.files.Read(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound(id)
		}
		return nil, apperr.Internal("read "+id, err)
	}
	updated, err := parser.UpdateField(id, content, field, value, field == FieldPriority)
	if err != nil {
		return nil, err
	}
	if err := e.files.Write(id, updated); err != nil {
		return nil, apperr.Internal("write "+id, err)
	}
	e.cache.Invalidate(id)

	doc, err := e.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	e.logger.Info("engine: metadata updated",
		slog.String("id", id),
		slog.String("field", field))
	return e.view(doc, nil), nil
}

func validateField(field, value string) error {
	if err := validation.Validate(field,
		validation.Required,
		validation.In(FieldTitle, FieldStatus, FieldPriority, FieldAssignee),
	); err != nil {
		return fmt.Errorf("field %q: %w", field, err)
	}
	rules := []validation.Rule{validation.Length(0, 200)}
	switch field {
	case FieldStatus:
		rules = append(rules, validation.Required, validation.Length(1, 64))
	case FieldPriority:
		rules = append(rules, validation.Required, validation.By(func(any) error {
			if _, err := strconv.Atoi(value); err != nil {
				return fmt.Errorf("must be an integer")
			}
			return nil
		}))
	}
	if err := validation.Validate(value, rules...); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}
