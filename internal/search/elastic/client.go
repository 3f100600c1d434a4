// Package elastic implements search.Client against the Elasticsearch HTTP
// API. Only the handful of endpoints the migration engine needs are covered.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/searchops/indexmigrate/internal/domain"
	"github.com/searchops/indexmigrate/internal/search"
)

// Compile-time check: Client implements search.Client.
var _ search.Client = (*Client)(nil)

// Config holds Elasticsearch connection settings.
type Config struct {
	Endpoint string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to a single Elasticsearch endpoint.
type Client struct {
	endpoint string
	username string
	password string
	http     *http.Client
}

// NewClient creates an Elasticsearch client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
	}
}

// CreateIndex issues PUT /{name} with the schema body. An existing index is
// reported as created=false, not an error.
func (c *Client) CreateIndex(ctx context.Context, name, schemaJSON string) (bool, error) {
	status, body, err := c.request(ctx, http.MethodPut, "/"+name, "application/json", strings.NewReader(schemaJSON))
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusOK:
		return true, nil
	case status == http.StatusBadRequest && errorType(body) == "resource_already_exists_exception":
		return false, nil
	default:
		return false, fmt.Errorf("create index %s: status %d: %s", name, status, truncate(body))
	}
}

// DeleteIndex issues DELETE /{name}. A missing index is reported as
// existed=false, not an error.
func (c *Client) DeleteIndex(ctx context.Context, name string) (bool, error) {
	status, body, err := c.request(ctx, http.MethodDelete, "/"+name, "", nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("delete index %s: status %d: %s", name, status, truncate(body))
	}
}

// IndexExists issues HEAD /{name}.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	status, _, err := c.request(ctx, http.MethodHead, "/"+name, "", nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("head index %s: status %d", name, status)
	}
}

// BulkWrite indexes documents through POST /{name}/_bulk and counts
// per-document outcomes from the items response.
func (c *Client) BulkWrite(ctx context.Context, name string, docs []domain.Document) (int, int, error) {
	if len(docs) == 0 {
		return 0, 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]map[string]string{"index": {"_id": doc.ID}}
		if err := enc.Encode(meta); err != nil {
			return 0, 0, fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := enc.Encode(doc.Body); err != nil {
			return 0, 0, fmt.Errorf("encode bulk doc %s: %w", doc.ID, err)
		}
	}

	status, body, err := c.request(ctx, http.MethodPost, "/"+name+"/_bulk", "application/x-ndjson", &buf)
	if err != nil {
		return 0, 0, err
	}
	if status != http.StatusOK {
		return 0, 0, fmt.Errorf("bulk write to %s: status %d: %s", name, status, truncate(body))
	}

	var resp struct {
		Items []map[string]struct {
			Status int `json:"status"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, fmt.Errorf("decode bulk response: %w", err)
	}

	succeeded, failed := 0, 0
	for _, item := range resp.Items {
		for _, op := range item {
			if op.Status >= 200 && op.Status < 300 {
				succeeded++
			} else {
				failed++
			}
		}
	}
	return succeeded, failed, nil
}

// DeleteAllDocuments issues POST /{name}/_delete_by_query with a match_all
// query.
func (c *Client) DeleteAllDocuments(ctx context.Context, name string) (int64, error) {
	query := strings.NewReader(`{"query":{"match_all":{}}}`)
	status, body, err := c.request(ctx, http.MethodPost, "/"+name+"/_delete_by_query", "application/json", query)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("delete by query on %s: status %d: %s", name, status, truncate(body))
	}

	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return resp.Deleted, nil
}

// CountDocs issues GET /{name}/_count; a missing index counts as zero.
func (c *Client) CountDocs(ctx context.Context, name string) (int64, error) {
	status, body, err := c.request(ctx, http.MethodGet, "/"+name+"/_count", "", nil)
	if err != nil {
		return 0, err
	}
	switch status {
	case http.StatusOK:
		var resp struct {
			Count int64 `json:"count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0, fmt.Errorf("decode count response: %w", err)
		}
		return resp.Count, nil
	case http.StatusNotFound:
		return 0, nil
	default:
		return 0, fmt.Errorf("count docs of %s: status %d: %s", name, status, truncate(body))
	}
}

// ListIndexes issues GET /_cat/indices?format=json, skipping internal
// dot-prefixed indexes.
func (c *Client) ListIndexes(ctx context.Context) ([]search.IndexInfo, error) {
	status, body, err := c.request(ctx, http.MethodGet, "/_cat/indices?format=json", "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list indexes: status %d: %s", status, truncate(body))
	}

	var rows []struct {
		Index     string `json:"index"`
		DocsCount string `json:"docs.count"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode cat indices: %w", err)
	}

	out := make([]search.IndexInfo, 0, len(rows))
	for _, row := range rows {
		if strings.HasPrefix(row.Index, ".") {
			continue
		}
		count, _ := strconv.ParseInt(row.DocsCount, 10, 64)
		out = append(out, search.IndexInfo{Name: row.Index, DocCount: count})
	}
	return out, nil
}

// Ping issues GET / against the endpoint root.
func (c *Client) Ping(ctx context.Context) error {
	status, _, err := c.request(ctx, http.MethodGet, "/", "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("ping: status %d", status)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) request(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response of %s %s: %w", method, path, err)
	}
	return resp.StatusCode, data, nil
}

// errorType extracts error.type from an Elasticsearch error body.
func errorType(body []byte) string {
	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Error.Type
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
