package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/catalog-service/internal/domain"
	"github.com/utafrali/catalog-service/pkg/database"
	apperrors "github.com/utafrali/catalog-service/pkg/errors"
)

const productColumns = `id, seller_id, title, description, price, stock_quantity, image_url, category_id, created_at, updated_at`

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	db database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create validates p and inserts it. ID and timestamps are assigned by the
// database and written back into p.
func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) (err error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO products (seller_id, title, description, price, stock_quantity, image_url, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	ctx, end := database.TraceQuery(ctx, "CreateProduct", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query,
		p.SellerID,
		p.Title,
		p.Description,
		p.Price,
		p.StockQuantity,
		p.ImageURL,
		p.CategoryID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// GetByID retrieves a product by its ID.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (_ *domain.Product, err error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetProduct", query)
	defer func() { end(spanError(err)) }()

	p, err := scanProduct(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// List returns every product ordered by id.
func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products ORDER BY id`
	return r.list(ctx, "ListProducts", query)
}

// ListBySeller returns the products owned by sellerID ordered by id.
func (r *ProductRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE seller_id = $1 ORDER BY id`
	return r.list(ctx, "ListSellerProducts", query, sellerID)
}

func (r *ProductRepository) list(ctx context.Context, op, query string, args ...any) (_ []domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

// Update locks the row, checks ownership, applies patch, validates the result
// and writes it back, all in one transaction.
func (r *ProductRepository) Update(ctx context.Context, id int64, sellerID string, patch domain.ProductPatch) (_ *domain.Product, err error) {
	const query = `
		UPDATE products
		SET title = $1, description = $2, price = $3, stock_quantity = $4, image_url = $5,
		    category_id = $6, updated_at = now()
		WHERE id = $7
		RETURNING updated_at`

	ctx, end := database.TraceQuery(ctx, "UpdateProduct", query)
	defer func() { end(spanError(err)) }()

	var updated *domain.Product
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockOwned(ctx, tx, id, sellerID)
		if err != nil {
			return err
		}

		patch.Apply(p)
		p.Normalize()
		if err := p.Validate(); err != nil {
			return err
		}

		err = tx.QueryRow(ctx, query,
			p.Title,
			p.Description,
			p.Price,
			p.StockQuantity,
			p.ImageURL,
			p.CategoryID,
			p.ID,
		).Scan(&p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete locks the row, checks ownership and removes it, returning the
// removed product.
func (r *ProductRepository) Delete(ctx context.Context, id int64, sellerID string) (_ *domain.Product, err error) {
	const query = `DELETE FROM products WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteProduct", query)
	defer func() { end(spanError(err)) }()

	var removed *domain.Product
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockOwned(ctx, tx, id, sellerID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, id); err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		removed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *ProductRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// lockOwned selects the row FOR UPDATE and verifies sellerID owns it.
func lockOwned(ctx context.Context, tx pgx.Tx, id int64, sellerID string) (*domain.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	p, err := scanProduct(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}
	if !p.OwnedBy(sellerID) {
		return nil, apperrors.Forbidden("you do not own this product")
	}
	return p, nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.SellerID,
		&p.Title,
		&p.Description,
		&p.Price,
		&p.StockQuantity,
		&p.ImageURL,
		&p.CategoryID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func notFound(id int64) error {
	return apperrors.NotFound("product", strconv.FormatInt(id, 10))
}

// spanError keeps expected rejections out of the span status.
func spanError(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrForbidden) ||
		errors.Is(err, apperrors.ErrInvalidInput) {
		return nil
	}
	return err
}
