package engine

import (
	"context"
	"time"

	"github.com/utafrali/catalog-service/internal/domain"
)

// Price range bounds applied when only one side of the range is given.
const (
	DefaultMinPrice = 0
	DefaultMaxPrice = 99999
)

// Result size limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Document is the indexed projection of a product. It is derived from the
// store and can always be rebuilt from it.
type Document struct {
	ID            int64     `json:"id"`
	SellerID      string    `json:"seller_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Price         float64   `json:"price"`
	StockQuantity int       `json:"stock_quantity"`
	ImageURL      string    `json:"image_url"`
	CategoryID    int64     `json:"category_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DocumentFromProduct projects p into an index document.
func DocumentFromProduct(p *domain.Product) Document {
	price, _ := p.Price.Round(2).Float64()
	return Document{
		ID:            p.ID,
		SellerID:      p.SellerID,
		Title:         p.Title,
		Description:   p.Description,
		Price:         price,
		StockQuantity: p.StockQuantity,
		ImageURL:      p.ImageURL,
		CategoryID:    p.CategoryID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// Query is a full-text search with optional filters. An empty Text matches
// every document.
type Query struct {
	Text       string
	CategoryID *int64
	MinPrice   *float64
	MaxPrice   *float64
	Limit      int
}

// PriceRange returns the effective inclusive price bounds. ok is false when
// neither bound was given; a missing side takes its default.
func (q Query) PriceRange() (gte, lte float64, ok bool) {
	if q.MinPrice == nil && q.MaxPrice == nil {
		return 0, 0, false
	}
	gte, lte = DefaultMinPrice, DefaultMaxPrice
	if q.MinPrice != nil {
		gte = *q.MinPrice
	}
	if q.MaxPrice != nil {
		lte = *q.MaxPrice
	}
	return gte, lte, true
}

// Size clamps Limit to [1, MaxLimit], defaulting to DefaultLimit.
func (q Query) Size() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}

// SearchEngine indexes and searches product documents.
type SearchEngine interface {
	// Index adds or replaces a single document.
	Index(ctx context.Context, doc *Document) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, id int64) error

	// Search returns the documents matching q, best match first.
	Search(ctx context.Context, q Query) ([]Document, error)

	// BulkIndex adds or replaces many documents in one request.
	BulkIndex(ctx context.Context, docs []Document) error

	// Prune removes every document whose id is not in keep and returns how
	// many were removed.
	Prune(ctx context.Context, keep []int64) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
