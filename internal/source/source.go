// Package source defines where reindex documents come from. The engine plans
// batches over document ids and fetches each batch by id, so sources only
// need to answer those two questions.
package source

import (
	"context"
	"time"

	"github.com/searchops/indexmigrate/internal/domain"
)

// DataSource supplies documents for bulk reindexing.
type DataSource interface {
	// IDs returns the ids of documents to index. A non-zero since restricts
	// the result to documents changed at or after that time.
	IDs(ctx context.Context, since time.Time) ([]string, error)

	// FetchByID materializes the documents for a batch of ids. Unknown ids
	// are skipped, not failed.
	FetchByID(ctx context.Context, ids []string) ([]domain.Document, error)
}

// Slice is an in-memory DataSource backed by a fixed document list. Used by
// tests and small fixed datasets.
type Slice struct {
	Docs      []domain.Document
	UpdatedAt map[string]time.Time // optional change times for since filtering
}

var _ DataSource = (*Slice)(nil)

// IDs returns ids in document order, filtered by since when set.
func (s *Slice) IDs(_ context.Context, since time.Time) ([]string, error) {
	ids := make([]string, 0, len(s.Docs))
	for _, d := range s.Docs {
		if !since.IsZero() {
			at, ok := s.UpdatedAt[d.ID]
			if !ok || at.Before(since) {
				continue
			}
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// FetchByID returns the documents matching ids, preserving id order.
func (s *Slice) FetchByID(_ context.Context, ids []string) ([]domain.Document, error) {
	byID := make(map[string]domain.Document, len(s.Docs))
	for _, d := range s.Docs {
		byID[d.ID] = d
	}
	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}
