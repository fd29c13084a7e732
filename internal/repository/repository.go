package repository

import (
	"context"

	"github.com/utafrali/catalog-service/internal/domain"
)

// ProductRepository defines the persistence operations for products. It is a
// pure persistence boundary: implementations never touch the search index or
// publish events.
type ProductRepository interface {
	// Create validates and inserts a product, filling in ID and timestamps.
	Create(ctx context.Context, product *domain.Product) error

	// GetByID retrieves a product by its identifier.
	GetByID(ctx context.Context, id int64) (*domain.Product, error)

	// List returns every product ordered by id.
	List(ctx context.Context) ([]domain.Product, error)

	// ListBySeller returns the products owned by sellerID ordered by id.
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error)

	// Update applies patch to the product owned by sellerID and returns the
	// stored result.
	Update(ctx context.Context, id int64, sellerID string, patch domain.ProductPatch) (*domain.Product, error)

	// Delete removes the product owned by sellerID and returns the removed row.
	Delete(ctx context.Context, id int64, sellerID string) (*domain.Product, error)
}
