package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/searchops/indexmigrate/internal/domain"
)

// NDJSONFile is a DataSource backed by a newline-delimited JSON file. Each
// line is one document object; the "id" field (or IDField) identifies it and
// an optional "updated_at" RFC3339 field drives resume-mode filtering. The
// file is parsed once on first use.
type NDJSONFile struct {
	Path    string
	IDField string // defaults to "id"

	once    sync.Once
	loadErr error
	docs    []domain.Document
	updated map[string]time.Time
}

var _ DataSource = (*NDJSONFile)(nil)

func (f *NDJSONFile) load() error {
	f.once.Do(func() {
		idField := f.IDField
		if idField == "" {
			idField = "id"
		}

		file, err := os.Open(f.Path)
		if err != nil {
			f.loadErr = fmt.Errorf("open data file %s: %w", f.Path, err)
			return
		}
		defer file.Close()

		f.updated = make(map[string]time.Time)
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var body map[string]any
			if err := json.Unmarshal(line, &body); err != nil {
				f.loadErr = fmt.Errorf("parse %s line %d: %w", f.Path, lineNum, err)
				return
			}

			id, ok := body[idField].(string)
			if !ok || id == "" {
				f.loadErr = fmt.Errorf("%s line %d: missing %q field", f.Path, lineNum, idField)
				return
			}

			if raw, ok := body["updated_at"].(string); ok {
				if at, err := time.Parse(time.RFC3339, raw); err == nil {
					f.updated[id] = at
				}
			}
			f.docs = append(f.docs, domain.Document{ID: id, Body: body})
		}
		if err := scanner.Err(); err != nil {
			f.loadErr = fmt.Errorf("read %s: %w", f.Path, err)
		}
	})
	return f.loadErr
}

// IDs returns document ids in file order, filtered by since when set.
// Documents without an updated_at field are excluded by a since filter.
func (f *NDJSONFile) IDs(_ context.Context, since time.Time) ([]string, error) {
	if err := f.load(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.docs))
	for _, d := range f.docs {
		if !since.IsZero() {
			at, ok := f.updated[d.ID]
			if !ok || at.Before(since) {
				continue
			}
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// FetchByID returns the documents matching ids, preserving id order.
func (f *NDJSONFile) FetchByID(_ context.Context, ids []string) ([]domain.Document, error) {
	if err := f.load(); err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Document, len(f.docs))
	for _, d := range f.docs {
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
