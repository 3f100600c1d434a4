package indexes

import (
	"context"
	"sort"
	"sync"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/search"
)

// fakeSearch is an in-memory search.Client with failure injection.
type fakeSearch struct {
	mu      sync.Mutex
	indexes map[string]map[string]domain.Document

	createErr error
	deleteErr error
	bulkErr   error
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
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
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
	if f.bulkErr != nil {
		return 0, len(docs), f.bulkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
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
