package index

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// EntryRow is a cache entry plus the body text indexed for search.
type EntryRow struct {
	Entry models.CacheEntry
	Body  string
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ListRow is a metadata-only listing row.
type ListRow struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
	Assignee string `json:"assignee,omitempty"`
}

// SaveEntries upserts a batch of entries, their search rows and references in
// a single transaction.
func (db *DB) SaveEntries(rows []EntryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	upsert, err := tx.Prepare(`
		INSERT INTO entries (path, fingerprint, title, status, priority, assignee, tags, meta, anchors, tokens, body_offset, body, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			title       = excluded.title,
			status      = excluded.status,
			priority    = excluded.priority,
			assignee    = excluded.assignee,
			tags        = excluded.tags,
			meta        = excluded.meta,
			anchors     = excluded.anchors,
			tokens      = excluded.tokens,
			body_offset = excluded.body_offset,
			body        = excluded.body,
			last_seen   = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("index: prepare upsert: %w", err)
	}
	defer upsert.Close()

	link, err := tx.Prepare(`INSERT OR IGNORE INTO refs (source, target, anchor, ord, kind) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare ref insert: %w", err)
	}
	defer link.Close()

	for _, r := range rows {
		e := r.Entry
		tags := e.Meta.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, _ := json.Marshal(tags)
		metaJSON, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("index: encode meta %s: %w", e.ID, err)
		}
		anchorsJSON, _ := json.Marshal(e.Anchors)

		if _, err := upsert.Exec(e.ID, e.Fingerprint, e.Meta.Title, e.Meta.Status, e.Meta.Priority,
			e.Meta.Assignee, string(tagsJSON), string(metaJSON), string(anchorsJSON), e.Tokens,
			e.BodyOffset, r.Body, e.LastSeen); err != nil {
			return fmt.Errorf("index: upsert entry %s: %w", e.ID, err)
		}
		if err := ftsUpsert(tx, e.ID, e.Meta.Title, r.Body, tags); err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM refs WHERE source = ?`, e.ID); err != nil {
			return fmt.Errorf("index: clear refs %s: %w", e.ID, err)
		}
		for _, ref := range e.Refs {
			if _, err := link.Exec(e.ID, ref.Target, ref.Anchor, ref.Order, ref.Source); err != nil {
				return fmt.Errorf("index: insert ref: %w", err)
			}
		}
	}
	return tx.Commit()
}

// DeleteEntry removes an entry, its search row and outgoing references.
func (db *DB) DeleteEntry(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM refs WHERE source = ?`, path)
	_, _ = tx.Exec(`DELETE FROM entries WHERE path = ?`, path)

	return tx.Commit()
}

// Reset drops every persisted row.
func (db *DB) Reset() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsReset(tx)
	for _, stmt := range []string{`DELETE FROM refs`, `DELETE FROM entries`} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("index: reset: %w", err)
		}
	}
	return tx.Commit()
}

// LoadEntries returns every persisted entry with its references.
func (db *DB) LoadEntries() ([]models.CacheEntry, error) {
	refs, err := db.allRefs()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(`SELECT path, fingerprint, meta, anchors, tokens, body_offset, last_seen FROM entries ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: load entries: %w", err)
	}
	defer rows.Close()

	var out []models.CacheEntry
	for rows.Next() {
		var (
			e                 models.CacheEntry
			metaRaw, anchRaw string
		)
		if err := rows.Scan(&e.ID, &e.Fingerprint, &metaRaw, &anchRaw, &e.Tokens, &e.BodyOffset, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("index: scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(metaRaw), &e.Meta); err != nil {
			return nil, fmt.Errorf("index: decode meta %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(anchRaw), &e.Anchors); err != nil {
			return nil, fmt.Errorf("index: decode anchors %s: %w", e.ID, err)
		}
		e.Refs = refs[e.ID]
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) allRefs() (map[string][]models.Reference, error) {
	rows, err := db.conn.Query(`SELECT source, target, anchor, ord, kind FROM refs ORDER BY source, ord`)
	if err != nil {
		return nil, fmt.Errorf("index: load refs: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]models.Reference)
	for rows.Next() {
		var src string
		var r models.Reference
		if err := rows.Scan(&src, &r.Target, &r.Anchor, &r.Order, &r.Source); err != nil {
			return nil, err
		}
		out[src] = append(out[src], r)
	}
	return out, rows.Err()
}

// ListByStatus returns metadata rows, optionally filtered by status
// (case-insensitive), ordered by priority then path.
func (db *DB) ListByStatus(status string) ([]ListRow, error) {
	query := `SELECT path, title, status, priority, assignee FROM entries`
	var args []any
	if status = strings.TrimSpace(status); status != "" {
		query += ` WHERE lower(status) = lower(?)`
		args = append(args, status)
	}
	query += ` ORDER BY priority DESC, path`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []ListRow
	for rows.Next() {
		var r ListRow
		if err := rows.Scan(&r.Path, &r.Title, &r.Status, &r.Priority, &r.Assignee); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Backlinks returns all entry paths that reference the given target.
func (db *DB) Backlinks(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT source FROM refs WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
