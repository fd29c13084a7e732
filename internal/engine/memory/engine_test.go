package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalog-service/internal/engine"
)

func ptr[T any](v T) *T { return &v }

func newDoc(id int64, title, description string, price float64, category int64) engine.Document {
	return engine.Document{
		ID:          id,
		SellerID:    "seller-1",
		Title:       title,
		Description: description,
		Price:       price,
		CategoryID:  category,
	}
}

func seeded(t *testing.T) *Engine {
	t.Helper()
	eng := New()
	require.NoError(t, eng.BulkIndex(context.Background(), []engine.Document{
		newDoc(1, "Wireless Bluetooth Headphones", "Noise canceling", 99.99, 1),
		newDoc(2, "Wired Headphones", "Studio monitor", 49.50, 1),
		newDoc(3, "Bluetooth Speaker", "Portable speaker with bluetooth", 150, 2),
		newDoc(4, "Walnut desk", "Solid wood", 120000, 3),
	}))
	return eng
}

func ids(docs []engine.Document) []int64 {
	out := make([]int64, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestEngine_Search_Text(t *testing.T) {
	eng := seeded(t)

	docs, err := eng.Search(context.Background(), engine.Query{Text: "bluetooth"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(docs))
}

func TestEngine_Search_ScoresByTermCount(t *testing.T) {
	eng := seeded(t)

	docs, err := eng.Search(context.Background(), engine.Query{Text: "wired headphones"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(docs), "doc matching both terms ranks first")
}

func TestEngine_Search_MatchAll(t *testing.T) {
	eng := seeded(t)

	docs, err := eng.Search(context.Background(), engine.Query{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(docs))
}

func TestEngine_Search_CategoryFilter(t *testing.T) {
	eng := seeded(t)

	docs, err := eng.Search(context.Background(), engine.Query{CategoryID: ptr(int64(1))})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(docs))
}

func TestEngine_Search_PriceRangeDefaults(t *testing.T) {
	eng := seeded(t)

	docs, err := eng.Search(context.Background(), engine.Query{MinPrice: ptr(50.0)})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(docs), "upper bound defaults to 99999")

	docs, err = eng.Search(context.Background(), engine.Query{MaxPrice: ptr(100.0)})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(docs))
}

func TestEngine_Search_NoMatch(t *testing.T) {
	eng := seeded(t)

	docs, err := eng.Search(context.Background(), engine.Query{Text: "keyboard"})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestEngine_Search_Limit(t *testing.T) {
	eng := seeded(t)

	docs, err := eng.Search(context.Background(), engine.Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestEngine_IndexReplacesAndDelete(t *testing.T) {
	ctx := context.Background()
	eng := seeded(t)

	updated := newDoc(2, "Wired Studio Headphones", "Closed back", 59, 1)
	require.NoError(t, eng.Index(ctx, &updated))
	got, ok := eng.Get(2)
	require.True(t, ok)
	assert.Equal(t, "Wired Studio Headphones", got.Title)
	assert.Equal(t, 4, eng.Len())

	require.NoError(t, eng.Delete(ctx, 2))
	require.NoError(t, eng.Delete(ctx, 2), "deleting a missing document is not an error")
	_, ok = eng.Get(2)
	assert.False(t, ok)
	assert.NoError(t, eng.Ping(ctx))
}

func TestEngine_Prune(t *testing.T) {
	eng := seeded(t)

	removed, err := eng.Prune(context.Background(), []int64{2, 4, 99})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, eng.Len())

	_, ok := eng.Get(1)
	assert.False(t, ok)
	_, ok = eng.Get(4)
	assert.True(t, ok)

	removed, err = eng.Prune(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Zero(t, eng.Len())
}
