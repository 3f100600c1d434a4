package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/searchops/indexmigrate/internal/db/memdb"
	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/indexes"
	"github.com/searchops/indexmigrate/internal/registry"
	"github.com/searchops/indexmigrate/internal/search"
	"github.com/searchops/indexmigrate/internal/source"
)

const moviesSchema = `{
	"settings": {"number_of_shards": 1},
	"mappings": {"properties": {"title": {"type": "text"}}}
}`

const moviesSchemaV2 = `{
	"settings": {"number_of_shards": 1},
	"mappings": {"properties": {"title": {"type": "text"}, "year": {"type": "integer"}}}
}`

// fakeSearch is an in-memory search.Client with failure injection.
type fakeSearch struct {
	mu      sync.Mutex
	indexes map[string]map[string]domain.Document

	createErr error
	bulkErr   error
	bulkFails int // fail this many BulkWrite calls, then succeed
}

var _ search.Client = (*fakeSearch)(nil)

func newFakeSearch() *fakeSearch {
	return &fakeSearch{indexes: make(map[string]map[string]domain.Document)}
}

func (f *fakeSearch) CreateIndex(_ context.Context, name, _ string) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indexes[name]; ok {
		return false, nil
	}
	f.indexes[name] = make(map[string]domain.Document)
	return true, nil
}

func (f *fakeSearch) DeleteIndex(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indexes[name]; !ok {
		return false, nil
	}
	delete(f.indexes, name)
	return true, nil
}

func (f *fakeSearch) IndexExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indexes[name]
	return ok, nil
}

func (f *fakeSearch) BulkWrite(_ context.Context, name string, docs []domain.Document) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return 0, len(docs), f.bulkErr
	}
	if f.bulkFails > 0 {
		f.bulkFails--
		return 0, len(docs), errTransient
	}
	idx, ok := f.indexes[name]
	if !ok {
		idx = make(map[string]domain.Document)
		f.indexes[name] = idx
	}
	for _, d := range docs {
		idx[d.ID] = d
	}
	return len(docs), 0, nil
}

func (f *fakeSearch) DeleteAllDocuments(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.indexes[name]))
	f.indexes[name] = make(map[string]domain.Document)
	return n, nil
}

func (f *fakeSearch) CountDocs(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.indexes[name])), nil
}

func (f *fakeSearch) ListIndexes(context.Context) ([]search.IndexInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]search.IndexInfo, 0, len(f.indexes))
	for name, docs := range f.indexes {
		out = append(out, search.IndexInfo{Name: name, DocCount: int64(len(docs))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeSearch) Ping(context.Context) error { return nil }
func (f *fakeSearch) Close() error               { return nil }

var errTransient = &transientError{}

type transientError struct{}

func (*transientError) Error() string { return "transient backend failure" }

// makeDocs builds n documents with ids "1".."n".
func makeDocs(n int) []domain.Document {
	docs := make([]domain.Document, n)
	for i := range docs {
		id := itoa(i + 1)
		docs[i] = domain.Document{ID: id, Body: map[string]any{"title": "doc " + id}}
	}
	return docs
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [8]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

type testEnv struct {
	engine *Engine
	search *fakeSearch
	reg    *registry.Registry
	src    *source.Slice
}

func newTestEnv(t *testing.T, docs int) *testEnv {
	t.Helper()
	fake := newFakeSearch()
	reg := registry.New(memdb.NewStore(), "test:")
	mgr := indexes.NewManager(reg, fake, "", "v1-abc")
	src := &source.Slice{Docs: makeDocs(docs), UpdatedAt: make(map[string]time.Time)}
	mgr.Register(indexes.Definition{Name: "movies", SchemaRaw: []byte(moviesSchema), Source: src})
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	e := New(mgr, nil, Defaults{BatchSize: 1000, MaxRetries: 3})
	e.pipe.RetryBaseDelay = time.Millisecond
	e.pipe.JitterMax = time.Millisecond
	return &testEnv{engine: e, search: fake, reg: reg, src: src}
}
