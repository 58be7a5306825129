package index

import "github.com/starford/ansuz/internal/models"

// Store defines the metadata-store operations the engine depends on.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type Store interface {
	LoadEntries() ([]models.CacheEntry, error)
	SaveEntries(rows []EntryRow) error
	DeleteEntry(path string) error
	Reset() error
	Search(query string, limit int) ([]SearchResult, error)
	ListByStatus(status string) ([]ListRow, error)
	Backlinks(target string) ([]string, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
