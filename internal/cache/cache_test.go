package cache

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]index.EntryRow
	deletes  []string
	saves    int
	failNext int
	loadErr  error
	resets   int
}

func newFakeStore() *fakeStore { return &fakeStore{rows: make(map[string]index.EntryRow)} }

func (f *fakeStore) LoadEntries() ([]models.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	var out []models.CacheEntry
	for _, r := range f.rows {
		out = append(out, r.Entry)
	}
	return out, nil
}

func (f *fakeStore) SaveEntries(rows []index.EntryRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("database is locked")
	}
	f.saves++
	for _, r := range rows {
		f.rows[r.Entry.ID] = r
	}
	return nil
}

func (f *fakeStore) DeleteEntry(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, path)
	delete(f.rows, path)
	return nil
}

func (f *fakeStore) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.rows = make(map[string]index.EntryRow)
	return nil
}

func (f *fakeStore) saved(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[id]
	return ok
}

func testLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func newIndex(t *testing.T, meta MetadataStore, opts Options) (*Index, *storage.FS) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	x := New(fs, meta, testLogger(), opts)
	t.Cleanup(func() { _ = x.Close() })
	return x, fs
}

func parseAndStore(t *testing.T, x *Index, id string) {
	t.Helper()
	res, err := x.Lookup(id)
	require.NoError(t, err)
	doc, err := parser.Parse(id, res.Content)
	require.NoError(t, err)
	x.Store(doc)
}

func TestLookup_MissThenHit(t *testing.T) {
	x, fs := newIndex(t, nil, Options{})
	require.NoError(t, fs.Write("a.md", []byte("# A\n")))

	res, err := x.Lookup("a.md")
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, "# A\n", string(res.Content))

	parseAndStore(t, x, "a.md")
	res, err = x.Lookup("a.md")
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, "a.md", res.Doc.ID)
	assert.Len(t, res.Doc.Anchors, 1)
}

func TestLookup_FingerprintChangeIsMiss(t *testing.T) {
	x, fs := newIndex(t, nil, Options{})
	require.NoError(t, fs.Write("a.md", []byte("v1")))
	parseAndStore(t, x, "a.md")

	require.NoError(t, fs.Write("a.md", []byte("v2")))
	res, err := x.Lookup("a.md")
	require.NoError(t, err)
	assert.False(t, res.Hit, "changed content must not hit")
}

func TestLookup_MissingFileEvictsLazily(t *testing.T) {
	meta := newFakeStore()
	x, fs := newIndex(t, meta, Options{FlushCount: 1000, FlushInterval: time.Hour})
	require.NoError(t, fs.Write("gone.md", []byte("x")))
	parseAndStore(t, x, "gone.md")
	require.NoError(t, x.Flush())
	require.True(t, meta.saved("gone.md"))

	require.NoError(t, fs.Delete("gone.md"))
	_, ok := x.Peek("gone.md")
	assert.True(t, ok, "entry survives until next lookup")

	_, err := x.Lookup("gone.md")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, ok = x.Peek("gone.md")
	assert.False(t, ok)

	require.NoError(t, x.Flush())
	assert.False(t, meta.saved("gone.md"), "persisted entry deleted on flush")
	assert.Equal(t, int64(1), x.Stats().Evictions)
}

func TestInvalidate(t *testing.T) {
	x, fs := newIndex(t, nil, Options{})
	require.NoError(t, fs.Write("a.md", []byte("x")))
	parseAndStore(t, x, "a.md")
	x.Invalidate("a.md")
	res, err := x.Lookup("a.md")
	require.NoError(t, err)
	assert.False(t, res.Hit)
}

func TestStore_FlushOnCount(t *testing.T) {
	meta := newFakeStore()
	x, fs := newIndex(t, meta, Options{FlushCount: 2, FlushInterval: time.Hour})
	require.NoError(t, fs.Write("a.md", []byte("a")))
	require.NoError(t, fs.Write("b.md", []byte("b")))

	parseAndStore(t, x, "a.md")
	assert.False(t, meta.saved("a.md"), "single update must not flush")
	parseAndStore(t, x, "b.md")

	assert.Eventually(t, func() bool { return meta.saved("a.md") && meta.saved("b.md") },
		2*time.Second, 10*time.Millisecond)
}

func TestStore_FlushOnInterval(t *testing.T) {
	meta := newFakeStore()
	x, fs := newIndex(t, meta, Options{FlushCount: 100, FlushInterval: 50 * time.Millisecond})
	require.NoError(t, fs.Write("a.md", []byte("a")))
	parseAndStore(t, x, "a.md")
	assert.Eventually(t, func() bool { return meta.saved("a.md") }, 2*time.Second, 10*time.Millisecond)
}

func TestStore_BatchesRapidUpdates(t *testing.T) {
	meta := newFakeStore()
	x, fs := newIndex(t, meta, Options{FlushCount: 100, FlushInterval: time.Hour})
	for i := 0; i < 10; i++ {
		require.NoError(t, fs.Write("a.md", []byte{byte('a' + i)}))
		parseAndStore(t, x, "a.md")
	}
	require.NoError(t, x.Flush())
	assert.Equal(t, 1, meta.saves)
}

func TestFlush_RetriesTransientFailure(t *testing.T) {
	meta := newFakeStore()
	meta.failNext = 2
	x, fs := newIndex(t, meta, Options{FlushCount: 100, FlushInterval: time.Hour})
	require.NoError(t, fs.Write("a.md", []byte("a")))
	parseAndStore(t, x, "a.md")
	require.NoError(t, x.Flush())
	assert.True(t, meta.saved("a.md"))
}

func TestFlush_RequeuesAfterExhaustedRetries(t *testing.T) {
	meta := newFakeStore()
	meta.failNext = 3
	x, fs := newIndex(t, meta, Options{FlushCount: 100, FlushInterval: time.Hour})
	require.NoError(t, fs.Write("a.md", []byte("a")))
	parseAndStore(t, x, "a.md")
	require.Error(t, x.Flush())
	require.NoError(t, x.Flush())
	assert.True(t, meta.saved("a.md"))
}

func TestWarm_LoadsPersisted(t *testing.T) {
	meta := newFakeStore()
	x, fs := newIndex(t, meta, Options{})
	require.NoError(t, fs.Write("a.md", []byte("# A\n")))
	doc, err := parser.Parse("a.md", []byte("# A\n"))
	require.NoError(t, err)
	require.NoError(t, meta.SaveEntries([]index.EntryRow{{Entry: doc.Entry(time.Now())}}))

	assert.Equal(t, 1, x.Warm())
	res, err := x.Lookup("a.md")
	require.NoError(t, err)
	assert.True(t, res.Hit, "warm entry with matching fingerprint must hit")
}

func TestWarm_CorruptStoreStartsCold(t *testing.T) {
	meta := newFakeStore()
	meta.loadErr = errors.New("decode meta: unexpected end of JSON input")
	x, _ := newIndex(t, meta, Options{})
	assert.Equal(t, 0, x.Warm())
	assert.Equal(t, 1, meta.resets)
	assert.Equal(t, 0, x.Len())
}

func TestLookup_ConcurrentReaders(t *testing.T) {
	x, fs := newIndex(t, nil, Options{})
	require.NoError(t, fs.Write("a.md", []byte("# A\n")))
	parseAndStore(t, x, "a.md")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				res, err := x.Lookup("a.md")
				if err != nil || !res.Hit {
					t.Errorf("lookup: hit=%v err=%v", res.Hit, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), x.Stats().Hits)
}
