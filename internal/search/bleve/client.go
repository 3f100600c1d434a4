// Package bleve implements search.Client on an embedded Bleve store. Each
// physical index is a Bleve index directory under a common root, so the
// migration lifecycle works without any external search service.
package bleve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/search"
)

// Compile-time check: Client implements search.Client.
var _ search.Client = (*Client)(nil)

// Client manages Bleve index directories under a root path.
type Client struct {
	root string

	mu      sync.Mutex
	handles map[string]bleve.Index
}

// NewClient creates the root directory if needed and returns a client.
func NewClient(root string) (*Client, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create bleve root %s: %w", root, err)
	}
	return &Client{root: root, handles: make(map[string]bleve.Index)}, nil
}

func (c *Client) path(name string) string {
	return filepath.Join(c.root, name)
}

// open returns a cached handle for an existing index, opening it on first use.
func (c *Client) open(name string) (bleve.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.handles[name]; ok {
		return idx, nil
	}
	idx, err := bleve.Open(c.path(name))
	if err != nil {
		return nil, fmt.Errorf("open bleve index %s: %w", name, err)
	}
	c.handles[name] = idx
	return idx, nil
}

// CreateIndex creates a new Bleve index directory. The schema JSON is applied
// as a Bleve index mapping when it parses as one; otherwise the default
// mapping is used, since Elasticsearch schemas do not translate directly.
func (c *Client) CreateIndex(_ context.Context, name, schemaJSON string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(c.path(name)); err == nil {
		return false, nil
	}

	m := bleve.NewIndexMapping()
	if schemaJSON != "" {
		if err := json.Unmarshal([]byte(schemaJSON), m); err != nil {
			m = bleve.NewIndexMapping()
		}
	}

	idx, err := bleve.New(c.path(name), m)
	if err != nil {
		return false, fmt.Errorf("create bleve index %s: %w", name, err)
	}
	c.handles[name] = idx
	return true, nil
}

// DeleteIndex closes any open handle and removes the index directory.
func (c *Client) DeleteIndex(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	if idx, ok := c.handles[name]; ok {
		idx.Close()
		delete(c.handles, name)
	}
	c.mu.Unlock()

	if _, err := os.Stat(c.path(name)); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(c.path(name)); err != nil {
		return false, fmt.Errorf("remove bleve index %s: %w", name, err)
	}
	return true, nil
}

// IndexExists reports whether the index directory exists.
func (c *Client) IndexExists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(c.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat bleve index %s: %w", name, err)
	}
	return true, nil
}

// BulkWrite indexes documents in a single Bleve batch.
func (c *Client) BulkWrite(_ context.Context, name string, docs []domain.Document) (int, int, error) {
	if len(docs) == 0 {
		return 0, 0, nil
	}
	idx, err := c.open(name)
	if err != nil {
		return 0, 0, err
	}

	batch := idx.NewBatch()
	succeeded, failed := 0, 0
	for _, doc := range docs {
		if err := batch.Index(doc.ID, doc.Body); err != nil {
			failed++
			continue
		}
		succeeded++
	}
	if err := idx.Batch(batch); err != nil {
		return 0, len(docs), fmt.Errorf("bleve batch on %s: %w", name, err)
	}
	return succeeded, failed, nil
}

// DeleteAllDocuments pages through match-all results deleting every document.
func (c *Client) DeleteAllDocuments(_ context.Context, name string) (int64, error) {
	idx, err := c.open(name)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for {
		req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
		req.Size = 500
		res, err := idx.Search(req)
		if err != nil {
			return deleted, fmt.Errorf("match-all on %s: %w", name, err)
		}
		if len(res.Hits) == 0 {
			return deleted, nil
		}

		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return deleted, fmt.Errorf("delete batch on %s: %w", name, err)
		}
		deleted += int64(len(res.Hits))
	}
}

// CountDocs returns the document count, zero for a missing index.
func (c *Client) CountDocs(ctx context.Context, name string) (int64, error) {
	exists, err := c.IndexExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	idx, err := c.open(name)
	if err != nil {
		return 0, err
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count of %s: %w", name, err)
	}
	return int64(n), nil
}

// ListIndexes enumerates index directories under the root.
func (c *Client) ListIndexes(ctx context.Context) ([]search.IndexInfo, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("read bleve root: %w", err)
	}

	out := make([]search.IndexInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		count, err := c.CountDocs(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, search.IndexInfo{Name: e.Name(), DocCount: count})
	}
	return out, nil
}

// Ping verifies the root directory is accessible.
func (c *Client) Ping(context.Context) error {
	if _, err := os.Stat(c.root); err != nil {
		return fmt.Errorf("bleve root unavailable: %w", err)
	}
	return nil
}

// Close closes every open index handle.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, idx := range c.handles {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close bleve index %s: %w", name, err)
		}
		delete(c.handles, name)
	}
	return firstErr
}
