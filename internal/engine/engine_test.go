package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/utafrali/catalog-service/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestDocumentFromProduct(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &domain.Product{
		ID:            11,
		SellerID:      "seller-1",
		Title:         "Walnut desk",
		Description:   "Solid walnut",
		Price:         decimal.RequireFromString("199.90"),
		StockQuantity: 2,
		ImageURL:      "https://cdn.example.com/desk.jpg",
		CategoryID:    3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	doc := DocumentFromProduct(p)

	assert.Equal(t, int64(11), doc.ID)
	assert.Equal(t, 199.9, doc.Price)
	assert.Equal(t, int64(3), doc.CategoryID)
	assert.Equal(t, "seller-1", doc.SellerID)
	assert.Equal(t, now, doc.UpdatedAt)
}

func TestQuery_PriceRange(t *testing.T) {
	_, _, ok := Query{}.PriceRange()
	assert.False(t, ok)

	gte, lte, ok := Query{MinPrice: ptr(10.0)}.PriceRange()
	assert.True(t, ok)
	assert.Equal(t, 10.0, gte)
	assert.Equal(t, float64(DefaultMaxPrice), lte)

	gte, lte, ok = Query{MaxPrice: ptr(50.0)}.PriceRange()
	assert.True(t, ok)
	assert.Equal(t, float64(DefaultMinPrice), gte)
	assert.Equal(t, 50.0, lte)
}

func TestQuery_Size(t *testing.T) {
	assert.Equal(t, DefaultLimit, Query{}.Size())
	assert.Equal(t, 25, Query{Limit: 25}.Size())
	assert.Equal(t, MaxLimit, Query{Limit: 1000}.Size())
}
