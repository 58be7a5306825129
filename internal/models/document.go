// Package models defines the domain types shared by the resolution engine.
package models

import (
	"strings"
	"time"
)

// Reference sources.
const (
	RefMetadata = "metadata"
	RefInline   = "inline"
)

// Reference is a directed edge declared by a document, optionally scoped to
// an anchor of the target.
type Reference struct {
	Target string `json:"target"`
	Anchor string `json:"anchor,omitempty"`
	Source string `json:"source"`
	Order  int    `json:"order"`
}

// String renders the reference in path#Anchor syntax.
func (r Reference) String() string {
	if r.Anchor == "" {
		return r.Target
	}
	return r.Target + "#" + r.Anchor
}

// ParseReference splits "path#Anchor" into its parts.
func ParseReference(raw string) Reference {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "#"); i >= 0 {
		return Reference{Target: strings.TrimSpace(raw[:i]), Anchor: strings.TrimSpace(raw[i+1:])}
	}
	return Reference{Target: raw}
}

// Anchor is a heading-scoped span within a document. Start and End are byte
// offsets into Document.Content; the span includes the heading line.
type Anchor struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Metadata is the parsed metadata block of a document.
type Metadata struct {
	Title    string         `json:"title,omitempty"`
	Status   string         `json:"status,omitempty"`
	Priority int            `json:"priority,omitempty"`
	Assignee string         `json:"assignee,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Refs     []string       `json:"refs,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Document is a parsed Markdown file or task record.
type Document struct {
	ID          string      `json:"id"`
	Fingerprint string      `json:"fingerprint"`
	Meta        Metadata    `json:"meta"`
	Refs        []Reference `json:"refs,omitempty"`
	Anchors     []Anchor    `json:"anchors,omitempty"`
	Tokens      int         `json:"tokens"`
	Content     []byte      `json:"-"`
	BodyOffset  int         `json:"body_offset"`
}

// Body returns the content after the metadata block.
func (d *Document) Body() string {
	if d.BodyOffset >= len(d.Content) {
		return ""
	}
	return string(d.Content[d.BodyOffset:])
}

// Section returns the text covered by a.
func (d *Document) Section(a Anchor) string {
	if a.Start < 0 || a.End > len(d.Content) || a.Start > a.End {
		return ""
	}
	return string(d.Content[a.Start:a.End])
}

// CacheEntry is the persisted shadow of a Document.
type CacheEntry struct {
	ID          string      `json:"id"`
	Fingerprint string      `json:"fingerprint"`
	Meta        Metadata    `json:"meta"`
	Refs        []Reference `json:"refs,omitempty"`
	Anchors     []Anchor    `json:"anchors,omitempty"`
	Tokens      int         `json:"tokens"`
	BodyOffset  int         `json:"body_offset"`
	LastSeen    time.Time   `json:"last_seen"`
}

// Entry builds the cache shadow of d.
func (d *Document) Entry(seen time.Time) CacheEntry {
	return CacheEntry{
		ID:          d.ID,
		Fingerprint: d.Fingerprint,
		Meta:        d.Meta,
		Refs:        d.Refs,
		Anchors:     d.Anchors,
		Tokens:      d.Tokens,
		BodyOffset:  d.BodyOffset,
		LastSeen:    seen,
	}
}

// Document rebuilds a Document from the entry and the current content, which
// must match the entry's fingerprint.
func (e CacheEntry) Document(content []byte) *Document {
	return &Document{
		ID:          e.ID,
		Fingerprint: e.Fingerprint,
		Meta:        e.Meta,
		Refs:        e.Refs,
		Anchors:     e.Anchors,
		Tokens:      e.Tokens,
		Content:     content,
		BodyOffset:  e.BodyOffset,
	}
}

// FileMeta is a lightweight listing row from the content store.
type FileMeta struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
