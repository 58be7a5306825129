//go:build sqlite_fts5

package index

import (
	"testing"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entries_fts`).Scan(&count); err != nil {
		t.Fatalf("entries_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	row := entry("fts.md", "f1")
	row.Body = "The engine provides powerful context resolution."
	if err := db.SaveEntries([]EntryRow{row}); err != nil {
		t.Fatalf("SaveEntries: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "fts.md" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_QuotesOperators(t *testing.T) {
	db := testDB(t)
	row := entry("op.md", "1")
	row.Body = "alpha OR beta"
	_ = db.SaveEntries([]EntryRow{row})
	if _, err := db.Search(`alpha" OR`, 10); err != nil {
		t.Fatalf("quoted search should not error: %v", err)
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	row := entry("gone.md", "g")
	row.Body = "vanishing content"
	_ = db.SaveEntries([]EntryRow{row})
	_ = db.DeleteEntry("gone.md")

	results, _ := db.Search("vanishing", 10)
	for _, r := range results {
		if r.Path == "gone.md" {
			t.Error("deleted entry still in FTS index")
		}
	}
}
