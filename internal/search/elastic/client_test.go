package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/searchops/indexmigrate/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{Endpoint: srv.URL})
}

func TestCreateIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/movies-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "mappings") {
			t.Errorf("schema body not forwarded: %s", body)
		}
		fmt.Fprint(w, `{"acknowledged":true}`)
	})

	created, err := c.CreateIndex(context.Background(), "movies-1", `{"mappings":{}}`)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}
}

func TestCreateIndexAlreadyExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"resource_already_exists_exception"}}`)
	})

	created, err := c.CreateIndex(context.Background(), "movies-1", `{}`)
	if err != nil {
		t.Fatalf("existing index should not error, got %v", err)
	}
	if created {
		t.Error("expected created=false")
	}
}

func TestCreateIndexOtherError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"mapper_parsing_exception"}}`)
	})

	if _, err := c.CreateIndex(context.Background(), "movies-1", `{}`); err == nil {
		t.Fatal("expected error for mapping failure")
	}
}

func TestDeleteIndexMissingTolerated(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	existed, err := c.DeleteIndex(context.Background(), "movies-1")
	if err != nil {
		t.Fatalf("missing index should not error, got %v", err)
	}
	if existed {
		t.Error("expected existed=false")
	}
}

func TestBulkWriteCountsOutcomes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movies-1/_bulk" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-ndjson" {
			t.Errorf("content type = %q", got)
		}
		fmt.Fprint(w, `{"items":[
			{"index":{"status":201}},
			{"index":{"status":201}},
			{"index":{"status":400}}
		]}`)
	})

	docs := []domain.Document{
		{ID: "1", Body: map[string]any{"title": "a"}},
		{ID: "2", Body: map[string]any{"title": "b"}},
		{ID: "3", Body: map[string]any{"title": "c"}},
	}
	succeeded, failed, err := c.BulkWrite(context.Background(), "movies-1", docs)
	if err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	if succeeded != 2 || failed != 1 {
		t.Errorf("succeeded=%d failed=%d, want 2/1", succeeded, failed)
	}
}

func TestBulkWriteEmptyIsNoop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batch")
	})
	succeeded, failed, err := c.BulkWrite(context.Background(), "movies-1", nil)
	if err != nil || succeeded != 0 || failed != 0 {
		t.Errorf("empty batch: %d/%d/%v", succeeded, failed, err)
	}
}

func TestCountDocsMissingIndexIsZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	n, err := c.CountDocs(context.Background(), "ghost-1")
	if err != nil {
		t.Fatalf("CountDocs: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestDeleteAllDocuments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movies-1/_delete_by_query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var q map[string]any
		json.NewDecoder(r.Body).Decode(&q)
		if _, ok := q["query"]; !ok {
			t.Error("missing query body")
		}
		fmt.Fprint(w, `{"deleted":42}`)
	})

	n, err := c.DeleteAllDocuments(context.Background(), "movies-1")
	if err != nil {
		t.Fatalf("DeleteAllDocuments: %v", err)
	}
	if n != 42 {
		t.Errorf("deleted = %d, want 42", n)
	}
}

func TestListIndexesSkipsInternal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_cat/indices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `[
			{"index":"movies-1","docs.count":"10"},
			{"index":".kibana","docs.count":"5"},
			{"index":"books-2","docs.count":"3"}
		]`)
	})

	infos, err := c.ListIndexes(context.Background())
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d indexes, want 2", len(infos))
	}
	if infos[0].Name != "movies-1" || infos[0].DocCount != 10 {
		t.Errorf("unexpected first index %+v", infos[0])
	}
}

func TestBasicAuthForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "elastic" || pass != "pw" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Username: "elastic", Password: "pw"})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
