// Package testutil provides shared test helpers for setting up vaults,
// databases and engines.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/engine"
	"github.com/starford/ansuz/internal/guard"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/storage"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			os.Remove(dbFile.Name() + suffix)
		}
	})

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage provider.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteFiles writes path/content pairs into the vault.
func WriteFiles(t *testing.T, store storage.Provider, files map[string]string) {
	t.Helper()
	for p, content := range files {
		if err := store.Write(p, []byte(content)); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

// Fixture bundles an engine with the pieces behind it.
type Fixture struct {
	Dir    string
	Files  *storage.FS
	DB     *index.DB
	Engine *engine.Engine
}

// TestEngine builds an engine over a temporary vault seeded with files.
func TestEngine(t *testing.T, files map[string]string) *Fixture {
	t.Helper()
	dir, store := TestVault(t)
	WriteFiles(t, store, files)
	db := TestDB(t)
	logger := Logger()
	c := cache.New(store, db, logger, cache.Options{FlushInterval: 50 * time.Millisecond})
	eng := engine.New(store, c, db, guard.Default(), logger, engine.Options{
		DefaultBudget: 32000,
		MaxBudget:     128000,
		ParseWorkers:  4,
	})
	t.Cleanup(func() { eng.Close() })
	return &Fixture{Dir: dir, Files: store, DB: db, Engine: eng}
}
