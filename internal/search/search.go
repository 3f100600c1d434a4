// Package search abstracts the search engine behind a small client interface
// so the migration engine can target Elasticsearch over HTTP or an embedded
// Bleve store interchangeably.
package search

import (
	"context"

	"github.com/searchops/indexmigrate/internal/domain"
)

// IndexInfo is one physical index as reported by the engine.
type IndexInfo struct {
	Name     string
	DocCount int64
}

// Client is the engine-facing surface the migration system needs. Operations
// are idempotent where the underlying engine allows it: creating an index
// that exists and deleting one that does not are reported, not failed.
type Client interface {
	// CreateIndex creates a physical index with the given schema JSON.
	// Returns false with a nil error when the index already exists.
	CreateIndex(ctx context.Context, name, schemaJSON string) (created bool, err error)

	// DeleteIndex removes a physical index. Returns false with a nil error
	// when the index does not exist.
	DeleteIndex(ctx context.Context, name string) (existed bool, err error)

	// IndexExists reports whether a physical index exists.
	IndexExists(ctx context.Context, name string) (bool, error)

	// BulkWrite indexes a batch of documents and reports per-document
	// outcomes. A non-nil error means the batch as a whole failed.
	BulkWrite(ctx context.Context, name string, docs []domain.Document) (succeeded, failed int, err error)

	// DeleteAllDocuments removes every document while keeping the index and
	// its schema, returning the number removed.
	DeleteAllDocuments(ctx context.Context, name string) (int64, error)

	// CountDocs returns the number of documents in an index, 0 when the
	// index does not exist.
	CountDocs(ctx context.Context, name string) (int64, error)

	// ListIndexes enumerates physical indexes, internal engine indexes
	// excluded.
	ListIndexes(ctx context.Context) ([]IndexInfo, error)

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	// Close releases client resources.
	Close() error
}
