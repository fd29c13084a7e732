package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/utafrali/catalog-service/internal/domain"
	"github.com/utafrali/catalog-service/internal/engine"
	"github.com/utafrali/catalog-service/internal/repository"
	apperrors "github.com/utafrali/catalog-service/pkg/errors"
)

// EventPolicy decides whether a failed inventory event fails the update.
type EventPolicy string

const (
	// EventPolicyStrict reports a failed inventory event as a server error.
	EventPolicyStrict EventPolicy = "strict"
	// EventPolicyBestEffort logs a failed inventory event and succeeds.
	EventPolicyBestEffort EventPolicy = "best_effort"
)

// SellerDirectory resolves the contact address of a seller. An empty address
// with a nil error means the seller is unknown.
type SellerDirectory interface {
	SellerEmail(ctx context.Context, sellerID string) (string, error)
}

// IndexSynchronizer mirrors store mutations into the search index. Upsert and
// Remove never fail the caller.
type IndexSynchronizer interface {
	Upsert(ctx context.Context, p *domain.Product)
	Remove(ctx context.Context, id int64)
	Reindex(ctx context.Context, products []domain.Product) (int, error)
}

// EventPublisher emits domain events for downstream consumers.
type EventPublisher interface {
	PublishProductCreated(ctx context.Context, p *domain.Product, recipientEmail string) error
	PublishInventoryUpdated(ctx context.Context, p *domain.Product) error
}

// Searcher runs full-text product queries.
type Searcher interface {
	Search(ctx context.Context, q engine.Query) ([]engine.Document, error)
}

// ProductService orchestrates product mutations across the store, the search
// index, the identity service and the event queue.
type ProductService struct {
	repo     repository.ProductRepository
	sellers  SellerDirectory
	index    IndexSynchronizer
	searcher Searcher
	events   EventPublisher
	policy   EventPolicy
	logger   *slog.Logger

	wg sync.WaitGroup
}

// Deps groups the collaborators of ProductService.
type Deps struct {
	Repo     repository.ProductRepository
	Sellers  SellerDirectory
	Index    IndexSynchronizer
	Searcher Searcher
	Events   EventPublisher
	Policy   EventPolicy
	Logger   *slog.Logger
}

// NewProductService creates a new product service. An unknown policy is
// treated as strict.
func NewProductService(d Deps) *ProductService {
	policy := d.Policy
	if policy != EventPolicyBestEffort {
		policy = EventPolicyStrict
	}
	return &ProductService{
		repo:     d.Repo,
		sellers:  d.Sellers,
		index:    d.Index,
		searcher: d.Searcher,
		events:   d.Events,
		policy:   policy,
		logger:   d.Logger,
	}
}

// CreateProductInput holds the raw create request. Numeric fields arrive as
// text and are parsed here.
type CreateProductInput struct {
	SellerID      string
	Title         string
	Description   string
	Price         string
	StockQuantity string
	ImageURL      string
	CategoryID    string
}

// UpdateProductInput holds the raw update request. SellerID is the caller's
// claimed ownership; nil fields are left unchanged.
type UpdateProductInput struct {
	SellerID      string
	Title         *string
	Description   *string
	Price         *string
	StockQuantity *string
	ImageURL      *string
	CategoryID    *string
}

// SearchInput holds raw search parameters. Empty values are unset.
type SearchInput struct {
	Query      string
	CategoryID string
	MinPrice   string
	MaxPrice   string
	Limit      string
}

// CreateProduct validates input, resolves the seller, persists the product
// and dispatches index and event side effects without waiting for them.
func (s *ProductService) CreateProduct(ctx context.Context, input *CreateProductInput) (*domain.Product, error) {
	product, err := input.toProduct()
	if err != nil {
		return nil, err
	}
	product.Normalize()
	if err := product.Validate(); err != nil {
		return nil, err
	}

	email, err := s.sellers.SellerEmail(ctx, product.SellerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "seller lookup failed",
			slog.String("seller_id", product.SellerID),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.ServiceUnavailable("service temporarily unavailable", err)
	}
	if email == "" {
		return nil, apperrors.NotFoundMessage("seller not found or email not available")
	}

	if err := s.repo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.InfoContext(ctx, "product created",
		slog.Int64("product_id", product.ID),
		slog.String("seller_id", product.SellerID),
	)

	snapshot := *product
	s.goDetached(ctx, func(ctx context.Context) {
		s.index.Upsert(ctx, &snapshot)
	})
	s.goDetached(ctx, func(ctx context.Context) {
		// The publisher logs and counts failures; creation has already succeeded.
		_ = s.events.PublishProductCreated(ctx, &snapshot, email)
	})

	return product, nil
}

// GetProduct retrieves a product by its ID.
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product by id: %w", err)
	}
	return product, nil
}

// ListProducts returns every product.
func (s *ProductService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// ListSellerProducts returns the products owned by sellerID.
func (s *ProductService) ListSellerProducts(ctx context.Context, sellerID string) ([]domain.Product, error) {
	products, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list seller products: %w", err)
	}
	return products, nil
}

// UpdateProduct applies input to the product owned by input.SellerID, then
// waits for the index refresh and the inventory event.
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, input *UpdateProductInput) (*domain.Product, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product by id: %w", err)
	}
	if !current.OwnedBy(input.SellerID) {
		return nil, apperrors.Forbidden("you do not own this product")
	}

	patch, err := input.toPatch()
	if err != nil {
		return nil, err
	}
	preview := *current
	patch.Apply(&preview)
	preview.Normalize()
	if err := preview.Validate(); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, id, input.SellerID, patch)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.index.Upsert(ctx, updated)

	if err := s.events.PublishInventoryUpdated(ctx, updated); err != nil {
		if s.policy == EventPolicyStrict {
			return nil, fmt.Errorf("publish inventory update: %w", err)
		}
		s.logger.WarnContext(ctx, "inventory update event dropped",
			slog.Int64("product_id", updated.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "product updated", slog.Int64("product_id", updated.ID))
	return updated, nil
}

// DeleteProduct removes the product owned by sellerID and dispatches the index
// removal without waiting for it.
func (s *ProductService) DeleteProduct(ctx context.Context, id int64, sellerID string) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get product by id: %w", err)
	}
	if !current.OwnedBy(sellerID) {
		return apperrors.Forbidden("you do not own this product")
	}

	if _, err := s.repo.Delete(ctx, id, sellerID); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	s.logger.InfoContext(ctx, "product deleted", slog.Int64("product_id", id))

	s.goDetached(ctx, func(ctx context.Context) {
		s.index.Remove(ctx, id)
	})
	return nil
}

// SearchProducts queries the search index. No hits is reported as not found.
func (s *ProductService) SearchProducts(ctx context.Context, input *SearchInput) ([]engine.Document, error) {
	q, err := input.toQuery()
	if err != nil {
		return nil, err
	}

	docs, err := s.searcher.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	if len(docs) == 0 {
		return nil, apperrors.NotFoundMessage("no products found")
	}
	return docs, nil
}

// Reindex rebuilds the search index from the store.
func (s *ProductService) Reindex(ctx context.Context) (int, error) {
	products, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load products for reindex: %w", err)
	}
	n, err := s.index.Reindex(ctx, products)
	if err != nil {
		return n, apperrors.ServiceUnavailable("search index unavailable", err)
	}
	return n, nil
}

// Wait blocks until every dispatched side effect has finished.
func (s *ProductService) Wait() {
	s.wg.Wait()
}

// goDetached runs fn on its own goroutine with a context that survives the
// request but keeps its values.
func (s *ProductService) goDetached(ctx context.Context, fn func(context.Context)) {
	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.ErrorContext(detached, "side effect panicked", slog.Any("panic", r))
			}
		}()
		fn(detached)
	}()
}

func (in *CreateProductInput) toProduct() (*domain.Product, error) {
	fields := make(map[string]string)

	price, err := parsePrice(in.Price)
	if err != nil {
		fields["price"] = err.Error()
	}
	stock, err := parseStock(in.StockQuantity)
	if err != nil {
		fields["stock_quantity"] = err.Error()
	}
	category, err := parseCategory(in.CategoryID)
	if err != nil {
		fields["category_id"] = err.Error()
	}

	if len(fields) > 0 {
		return nil, apperrors.ValidationFailed(fields)
	}

	return &domain.Product{
		SellerID:      in.SellerID,
		Title:         in.Title,
		Description:   in.Description,
		Price:         price,
		StockQuantity: stock,
		ImageURL:      in.ImageURL,
		CategoryID:    category,
	}, nil
}

func (in *UpdateProductInput) toPatch() (domain.ProductPatch, error) {
	patch := domain.ProductPatch{
		Title:       in.Title,
		Description: in.Description,
		ImageURL:    in.ImageURL,
	}
	fields := make(map[string]string)

	if in.Price != nil {
		price, err := parsePrice(*in.Price)
		if err != nil {
			fields["price"] = err.Error()
		} else {
			patch.Price = &price
		}
	}
	if in.StockQuantity != nil {
		stock, err := parseStock(*in.StockQuantity)
		if err != nil {
			fields["stock_quantity"] = err.Error()
		} else {
			patch.StockQuantity = &stock
		}
	}
	if in.CategoryID != nil {
		category, err := parseCategory(*in.CategoryID)
		if err != nil {
			fields["category_id"] = err.Error()
		} else {
			patch.CategoryID = &category
		}
	}

	if len(fields) > 0 {
		return domain.ProductPatch{}, apperrors.ValidationFailed(fields)
	}
	return patch, nil
}

func (in *SearchInput) toQuery() (engine.Query, error) {
	q := engine.Query{Text: strings.TrimSpace(in.Query)}
	fields := make(map[string]string)

	if v := strings.TrimSpace(in.CategoryID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fields["category_id"] = "category_id must be an integer"
		} else {
			q.CategoryID = &id
		}
	}
	if v := strings.TrimSpace(in.MinPrice); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			fields["min_price"] = "min_price must be a non-negative number"
		} else {
			q.MinPrice = &f
		}
	}
	if v := strings.TrimSpace(in.MaxPrice); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			fields["max_price"] = "max_price must be a non-negative number"
		} else {
			q.MaxPrice = &f
		}
	}
	if v := strings.TrimSpace(in.Limit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fields["limit"] = "limit must be a positive integer"
		} else {
			q.Limit = n
		}
	}

	if len(fields) > 0 {
		return engine.Query{}, apperrors.ValidationFailed(fields)
	}
	return q, nil
}

var (
	errPrice    = errors.New("price must be a positive number")
	errStock    = errors.New("stock_quantity must be a non-negative integer")
	errStockMax = errors.New("stock_quantity must not exceed 2147483647")
	errCategory = errors.New("category_id must be an integer")
)

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !price.IsPositive() {
		return decimal.Decimal{}, errPrice
	}
	return price, nil
}

func parseStock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	switch {
	case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(raw, "-"):
		return 0, errStockMax
	case err != nil || n < 0:
		return 0, errStock
	case n > domain.MaxStockQuantity:
		return 0, errStockMax
	}
	return int(n), nil
}

func parseCategory(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errCategory
	}
	return id, nil
}
