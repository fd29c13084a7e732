package elasticsearch_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-service/internal/engine"
	esengine "github.com/utafrali/catalog-service/internal/engine/elasticsearch"
)

func newIntegrationEngine(t *testing.T) *esengine.Engine {
	t.Helper()

	esURL := os.Getenv("ELASTICSEARCH_URL")
	if esURL == "" {
		t.Skip("ELASTICSEARCH_URL not set")
	}

	cfg := esengine.Config{
		URL:      esURL,
		Username: os.Getenv("ELASTICSEARCH_USERNAME"),
		Password: os.Getenv("ELASTICSEARCH_PASSWORD"),
		Index:    fmt.Sprintf("test_products_%d", time.Now().UnixNano()),
	}
	eng, err := esengine.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	t.Cleanup(func() { _ = esengine.DeleteIndex(eng, context.Background()) })
	return eng
}

func TestIntegration_IndexSearchDelete(t *testing.T) {
	eng := newIntegrationEngine(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, eng.BulkIndex(ctx, []engine.Document{
		{ID: 1, SellerID: "s1", Title: "Bluetooth headphones", Price: 99.99, CategoryID: 1, CreatedAt: now, UpdatedAt: now},
		{ID: 2, SellerID: "s1", Title: "Walnut desk", Description: "solid wood", Price: 450, CategoryID: 2, CreatedAt: now, UpdatedAt: now},
	}))

	docs, err := eng.Search(ctx, engine.Query{Text: "bluetooth"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(1), docs[0].ID)

	minPrice := 100.0
	docs, err = eng.Search(ctx, engine.Query{MinPrice: &minPrice})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(2), docs[0].ID)

	require.NoError(t, eng.Delete(ctx, 2))
	require.NoError(t, eng.Delete(ctx, 2))

	docs, err = eng.Search(ctx, engine.Query{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIntegration_PruneRemovesStaleDocuments(t *testing.T) {
	eng := newIntegrationEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.BulkIndex(ctx, []engine.Document{
		{ID: 1, Title: "Kept lamp", Price: 20, CategoryID: 1},
		{ID: 9, Title: "Deleted lamp", Price: 20, CategoryID: 1},
	}))

	removed, err := eng.Prune(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	docs, err := eng.Search(ctx, engine.Query{Text: "lamp"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(1), docs[0].ID)
}
