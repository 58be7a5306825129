// Package index is the SQLite-backed metadata store: persisted cache entries,
// declared references and the search index.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	path        TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	assignee    TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	meta        TEXT NOT NULL DEFAULT '{}',
	anchors     TEXT NOT NULL DEFAULT '[]',
	tokens      INTEGER NOT NULL DEFAULT 0,
	body_offset INTEGER NOT NULL DEFAULT 0,
	body        TEXT NOT NULL DEFAULT '',
	last_seen   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(status);

CREATE TABLE IF NOT EXISTS refs (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	anchor TEXT NOT NULL DEFAULT '',
	ord    INTEGER NOT NULL DEFAULT 0,
	kind   TEXT NOT NULL DEFAULT 'inline',
	UNIQUE(source, target, anchor)
);

CREATE INDEX IF NOT EXISTS idx_refs_source ON refs(source);
CREATE INDEX IF NOT EXISTS idx_refs_target ON refs(target);
`

// DB wraps a sql.DB with metadata-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// OpenOrReset opens the store at path. A corrupted file is logged, discarded
// and recreated empty, so callers fall back to a full reparse instead of failing.
func OpenOrReset(path string, logger *slog.Logger) (*DB, error) {
	db, err := Open(path)
	if err == nil {
		err = db.quickCheck()
		if err == nil {
			return db, nil
		}
		db.Close()
	}
	if !IsCorrupt(err) {
		return nil, err
	}
	logger.Warn("index: store corrupted, discarding",
		slog.String("path", path),
		slog.String("error", err.Error()))
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("index: discard corrupted store: %w", rmErr)
		}
	}
	return Open(path)
}

// IsCorrupt reports whether err means the database file is unusable.
func IsCorrupt(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB
	}
	return errors.Is(err, errCheckFailed)
}

var errCheckFailed = errors.New("index: integrity check failed")

func (db *DB) quickCheck() error {
	var res string
	if err := db.conn.QueryRow(`PRAGMA quick_check`).Scan(&res); err != nil {
		return fmt.Errorf("index: quick check: %w", err)
	}
	if res != "ok" {
		return fmt.Errorf("%w: %s", errCheckFailed, res)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
