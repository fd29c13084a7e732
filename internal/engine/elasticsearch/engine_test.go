package elasticsearch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-service/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeCluster answers the handful of endpoints the engine uses.
type fakeCluster struct {
	mu          sync.Mutex
	requests    []recordedRequest
	indexExists bool
	responses   map[string]fakeResponse
}

type fakeResponse struct {
	status int
	body   string
}

func newFakeCluster(t *testing.T) (*fakeCluster, *httptest.Server) {
	t.Helper()
	fc := &fakeCluster{responses: map[string]fakeResponse{}}
	srv := httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(srv.Close)
	return fc, srv
}

func (fc *fakeCluster) on(method, path string, status int, body string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.responses[method+" "+path] = fakeResponse{status: status, body: body}
}

func (fc *fakeCluster) recorded(method, path string) []recordedRequest {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	var out []recordedRequest
	for _, r := range fc.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (fc *fakeCluster) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	fc.mu.Lock()
	fc.requests = append(fc.requests, recordedRequest{
		Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body),
	})
	resp, ok := fc.responses[r.Method+" "+r.URL.Path]
	exists := fc.indexExists
	fc.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case ok:
		w.WriteHeader(resp.status)
		_, _ = io.WriteString(w, resp.body)
	case r.Method == http.MethodHead && r.URL.Path == "/products":
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	}
}

func newEngine(t *testing.T, srv *httptest.Server) *Engine {
	t.Helper()
	eng, err := New(context.Background(), Config{URL: srv.URL, Index: "products"}, testLogger())
	require.NoError(t, err)
	return eng
}

func TestNew_CreatesMissingIndex(t *testing.T) {
	fc, srv := newFakeCluster(t)
	newEngine(t, srv)

	created := fc.recorded(http.MethodPut, "/products")
	require.Len(t, created, 1)
	assert.Contains(t, created[0].Body, `"scaled_float"`)
}

func TestNew_KeepsExistingIndex(t *testing.T) {
	fc, srv := newFakeCluster(t)
	fc.indexExists = true
	newEngine(t, srv)

	assert.Empty(t, fc.recorded(http.MethodPut, "/products"))
}

func TestNew_CreateIndexFails(t *testing.T) {
	fc, srv := newFakeCluster(t)
	fc.on(http.MethodPut, "/products", http.StatusBadRequest,
		`{"error":{"type":"mapper_parsing_exception","reason":"bad mapping"},"status":400}`)

	_, err := New(context.Background(), Config{URL: srv.URL}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestEngine_Index(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodPut, "/products/_doc/42", http.StatusCreated, `{"result":"created"}`)

	doc := engine.Document{ID: 42, Title: "Walnut desk", Price: 199.9, CategoryID: 3}
	require.NoError(t, eng.Index(context.Background(), &doc))

	reqs := fc.recorded(http.MethodPut, "/products/_doc/42")
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Query, "refresh=wait_for")

	var sent engine.Document
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &sent))
	assert.Equal(t, doc, sent)
}

func TestEngine_Index_ClusterError(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodPut, "/products/_doc/1", http.StatusServiceUnavailable,
		`{"error":{"type":"cluster_block_exception","reason":"read-only"},"status":503}`)

	err := eng.Index(context.Background(), &engine.Document{ID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster_block_exception")
}

func TestEngine_Delete_IgnoresNotFound(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodDelete, "/products/_doc/9", http.StatusNotFound, `{"result":"not_found"}`)

	assert.NoError(t, eng.Delete(context.Background(), 9))
}

func TestEngine_Delete_Error(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodDelete, "/products/_doc/9", http.StatusInternalServerError, `oops`)

	err := eng.Delete(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestEngine_Search(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodPost, "/products/_search", http.StatusOK,
		`{"hits":{"total":{"value":1},"hits":[{"_source":{"id":42,"title":"Walnut desk","price":199.9,"category_id":3}}]}}`)

	docs, err := eng.Search(context.Background(), engine.Query{Text: "walnut", CategoryID: ptr(int64(3))})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(42), docs[0].ID)
	assert.Equal(t, 199.9, docs[0].Price)

	reqs := fc.recorded(http.MethodPost, "/products/_search")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{
		"query": {"bool": {
			"must": {"multi_match": {"query": "walnut", "fields": ["title", "description"]}},
			"filter": [{"term": {"category_id": 3}}]
		}},
		"size": 10
	}`, reqs[0].Body)
}

func TestBuildSearchQuery_MatchAllWithPriceDefaults(t *testing.T) {
	q := buildSearchQuery(engine.Query{MaxPrice: ptr(50.0)})
	data, err := json.Marshal(q)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"query": {"bool": {
			"must": {"match_all": {}},
			"filter": [{"range": {"price": {"gte": 0, "lte": 50}}}]
		}},
		"size": 10
	}`, string(data))
}

func TestEngine_BulkIndex(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodPost, "/products/_bulk", http.StatusOK, `{"errors":false,"items":[]}`)

	err := eng.BulkIndex(context.Background(), []engine.Document{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}})
	require.NoError(t, err)

	reqs := fc.recorded(http.MethodPost, "/products/_bulk")
	require.Len(t, reqs, 1)
	lines := strings.Split(strings.TrimSpace(reqs[0].Body), "\n")
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"index":{"_index":"products","_id":"1"}}`, lines[0])
	assert.JSONEq(t, `{"index":{"_index":"products","_id":"2"}}`, lines[2])
}

func TestEngine_BulkIndex_PartialErrors(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodPost, "/products/_bulk", http.StatusOK,
		`{"errors":true,"items":[{"index":{"_id":"2","error":{"type":"mapper_parsing_exception","reason":"bad price"}}}]}`)

	err := eng.BulkIndex(context.Background(), []engine.Document{{ID: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id=2")
}

func TestEngine_BulkIndex_Empty(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)

	require.NoError(t, eng.BulkIndex(context.Background(), nil))
	assert.Empty(t, fc.recorded(http.MethodPost, "/products/_bulk"))
}

func TestEngine_Ping(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	assert.NoError(t, eng.Ping(context.Background()))

	fc.on(http.MethodHead, "/", http.StatusServiceUnavailable, "")
	assert.Error(t, eng.Ping(context.Background()))
}

func TestEngine_Prune(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodPost, "/products/_delete_by_query", http.StatusOK, `{"deleted":2,"failures":[]}`)

	removed, err := eng.Prune(context.Background(), []int64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	reqs := fc.recorded(http.MethodPost, "/products/_delete_by_query")
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Query, "conflicts=proceed")
	assert.Contains(t, reqs[0].Query, "refresh=true")
	assert.JSONEq(t, `{"query":{"bool":{"must_not":{"ids":{"values":["1","3"]}}}}}`, reqs[0].Body)
}

func TestEngine_Prune_EmptyKeepMatchesEverything(t *testing.T) {
	data, err := json.Marshal(buildPruneQuery(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"bool":{"must_not":{"ids":{"values":[]}}}}}`, string(data))
}

func TestEngine_Prune_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "cluster error", status: http.StatusServiceUnavailable, body: `{"error":{"type":"cluster_block_exception","reason":"read-only"}}`, wantErr: "cluster_block_exception"},
		{name: "partial failures", status: http.StatusOK, body: `{"deleted":1,"failures":[{"id":"7"}]}`, wantErr: "1 failures"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, srv := newFakeCluster(t)
			eng := newEngine(t, srv)
			fc.on(http.MethodPost, "/products/_delete_by_query", tt.status, tt.body)

			_, err := eng.Prune(context.Background(), []int64{1})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEngine_DeleteIndex_IgnoresMissing(t *testing.T) {
	fc, srv := newFakeCluster(t)
	eng := newEngine(t, srv)
	fc.on(http.MethodDelete, "/products", http.StatusNotFound, `{"error":{"type":"index_not_found_exception"}}`)

	assert.NoError(t, eng.deleteIndex(context.Background()))
}
