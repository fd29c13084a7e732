package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/catalog-service/internal/engine"
)

// Config holds the cluster connection settings.
type Config struct {
	URL      string
	Username string
	Password string
	Index    string
}

// Engine is an Elasticsearch-backed engine.SearchEngine.
type Engine struct {
	client    *elasticsearch.Client
	indexName string
	logger    *slog.Logger
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source engine.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID    string `json:"_id"`
			Error struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

type deleteByQueryResponse struct {
	Deleted  int   `json:"deleted"`
	Failures []any `json:"failures"`
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// New connects to the cluster and creates the index with its mapping when it
// does not exist yet.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndexName
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: create client: %w", err)
	}

	e := &Engine{
		client:    client,
		indexName: cfg.Index,
		logger:    logger,
	}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, fmt.Errorf("elasticsearch: ensure index: %w", err)
	}
	return e, nil
}

// Ping checks whether the cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

func (e *Engine) ensureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.indexName}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index exists: %w", err)
	}
	_ = res.Body.Close()

	if res.StatusCode == http.StatusOK {
		e.logger.Info("elasticsearch index already exists", slog.String("index", e.indexName))
		return nil
	}

	res, err = e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("create index", res)
	}

	e.logger.Info("elasticsearch index created", slog.String("index", e.indexName))
	return nil
}

// Index adds or replaces a single document.
func (e *Engine) Index(ctx context.Context, doc *engine.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("elasticsearch index: marshal document: %w", err)
	}

	res, err := e.client.Index(
		e.indexName,
		bytes.NewReader(data),
		e.client.Index.WithDocumentID(docID(doc.ID)),
		e.client.Index.WithRefresh("wait_for"),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("elasticsearch index", res)
	}

	e.logger.DebugContext(ctx, "indexed product", slog.Int64("product_id", doc.ID))
	return nil
}

// Delete removes a document. A 404 is not an error.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	res, err := e.client.Delete(
		e.indexName,
		docID(id),
		e.client.Delete.WithRefresh("wait_for"),
		e.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("elasticsearch delete", res)
	}

	e.logger.DebugContext(ctx, "deleted product from index", slog.Int64("product_id", id))
	return nil
}

// Search runs q as a bool query and returns the matching documents.
func (e *Engine) Search(ctx context.Context, q engine.Query) ([]engine.Document, error) {
	data, err := json.Marshal(buildSearchQuery(q))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: marshal query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(bytes.NewReader(data)),
		e.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, responseError("elasticsearch search", res)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("elasticsearch search: decode response: %w", err)
	}

	docs := make([]engine.Document, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return docs, nil
}

// buildSearchQuery renders q as query DSL: multi_match over title and
// description (match_all without text) filtered by category and price.
func buildSearchQuery(q engine.Query) map[string]any {
	var must map[string]any
	if q.Text != "" {
		must = map[string]any{
			"multi_match": map[string]any{
				"query":  q.Text,
				"fields": []string{"title", "description"},
			},
		}
	} else {
		must = map[string]any{"match_all": map[string]any{}}
	}

	filters := []any{}
	if q.CategoryID != nil {
		filters = append(filters, map[string]any{
			"term": map[string]any{"category_id": *q.CategoryID},
		})
	}
	if gte, lte, ok := q.PriceRange(); ok {
		filters = append(filters, map[string]any{
			"range": map[string]any{
				"price": map[string]any{"gte": gte, "lte": lte},
			},
		})
	}

	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must":   must,
				"filter": filters,
			},
		},
		"size": q.Size(),
	}
}

// BulkIndex adds or replaces many documents through the bulk NDJSON API.
func (e *Engine) BulkIndex(ctx context.Context, docs []engine.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range docs {
		action := map[string]any{
			"index": map[string]any{"_index": e.indexName, "_id": docID(docs[i].ID)},
		}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("elasticsearch bulk index: encode action: %w", err)
		}
		if err := enc.Encode(docs[i]); err != nil {
			return fmt.Errorf("elasticsearch bulk index: encode document: %w", err)
		}
	}

	res, err := e.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithIndex(e.indexName),
		e.client.Bulk.WithRefresh("wait_for"),
		e.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("elasticsearch bulk index", res)
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("elasticsearch bulk index: decode response: %w", err)
	}
	if br.Errors {
		var msgs []string
		for _, item := range br.Items {
			if item.Index.Error.Type != "" {
				msgs = append(msgs, fmt.Sprintf("id=%s: %s: %s", item.Index.ID, item.Index.Error.Type, item.Index.Error.Reason))
			}
		}
		return fmt.Errorf("elasticsearch bulk index: partial errors: %s", strings.Join(msgs, "; "))
	}

	e.logger.InfoContext(ctx, "bulk indexed products", slog.Int("count", len(docs)))
	return nil
}

// Prune deletes every document whose _id is not in keep with a single
// delete_by_query. Version conflicts with concurrent writes are skipped.
func (e *Engine) Prune(ctx context.Context, keep []int64) (int, error) {
	data, err := json.Marshal(buildPruneQuery(keep))
	if err != nil {
		return 0, fmt.Errorf("elasticsearch prune: marshal query: %w", err)
	}

	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		bytes.NewReader(data),
		e.client.DeleteByQuery.WithConflicts("proceed"),
		e.client.DeleteByQuery.WithRefresh(true),
		e.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf("elasticsearch prune: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return 0, responseError("elasticsearch prune", res)
	}

	var dr deleteByQueryResponse
	if err := json.NewDecoder(res.Body).Decode(&dr); err != nil {
		return 0, fmt.Errorf("elasticsearch prune: decode response: %w", err)
	}
	if len(dr.Failures) > 0 {
		return dr.Deleted, fmt.Errorf("elasticsearch prune: %d failures", len(dr.Failures))
	}

	e.logger.InfoContext(ctx, "pruned stale documents", slog.Int("count", dr.Deleted))
	return dr.Deleted, nil
}

// buildPruneQuery matches every document outside keep. An empty keep
// matches the whole index.
func buildPruneQuery(keep []int64) map[string]any {
	ids := make([]string, len(keep))
	for i, id := range keep {
		ids[i] = docID(id)
	}
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must_not": map[string]any{
					"ids": map[string]any{"values": ids},
				},
			},
		},
	}
}

// deleteIndex drops the whole index. A missing index is not an error.
func (e *Engine) deleteIndex(ctx context.Context) error {
	res, err := e.client.Indices.Delete([]string{e.indexName}, e.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch delete index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("elasticsearch delete index", res)
	}
	return nil
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func responseError(op string, res *esapi.Response) error {
	var er errorResponse
	if err := json.NewDecoder(res.Body).Decode(&er); err == nil && er.Error.Type != "" {
		return fmt.Errorf("%s: %s: %s", op, er.Error.Type, er.Error.Reason)
	}
	return fmt.Errorf("%s: unexpected status %s", op, res.Status())
}
