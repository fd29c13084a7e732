package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/catalog-service/internal/domain"
	"github.com/utafrali/catalog-service/internal/service"
	"github.com/utafrali/catalog-service/pkg/httputil"
	"github.com/utafrali/catalog-service/pkg/middleware"
	"github.com/utafrali/catalog-service/pkg/validator"
)

const maxBodyBytes = 1 << 20

// ProductHandler handles HTTP requests for product endpoints.
type ProductHandler struct {
	service *service.ProductService
	logger  *slog.Logger
}

// NewProductHandler creates a new product HTTP handler.
func NewProductHandler(svc *service.ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateProductRequest is the JSON request body for creating a product.
type CreateProductRequest struct {
	SellerID      string        `json:"seller_id" validate:"max=255"`
	Title         string        `json:"title" validate:"required,notblank,printable,min=3,max=100"`
	Description   string        `json:"description"`
	Price         numericString `json:"price" validate:"required"`
	StockQuantity numericString `json:"stock_quantity"`
	ImageURL      string        `json:"image_url" validate:"omitempty,http_url"`
	CategoryID    numericString `json:"category_id" validate:"required"`
}

// UpdateProductRequest is the JSON request body for updating a product. Only
// the fields present are changed.
type UpdateProductRequest struct {
	SellerID      string         `json:"seller_id" validate:"max=255"`
	Title         *string        `json:"title" validate:"omitempty,notblank,printable,min=3,max=100"`
	Description   *string        `json:"description"`
	Price         *numericString `json:"price"`
	StockQuantity *numericString `json:"stock_quantity"`
	ImageURL      *string        `json:"image_url" validate:"omitempty,http_url"`
	CategoryID    *numericString `json:"category_id"`
}

// DeleteProductRequest is the optional JSON body of a delete.
type DeleteProductRequest struct {
	SellerID string `json:"seller_id"`
}

// --- Response DTOs ---

// MutationResponse acknowledges a create, update or delete.
type MutationResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Product *domain.Product `json:"product,omitempty"`
}

// ReindexResponse reports a search index rebuild.
type ReindexResponse struct {
	Success bool `json:"success"`
	Indexed int  `json:"indexed"`
}

// --- Handlers ---

// CreateProduct handles POST /products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := &service.CreateProductInput{
		SellerID:      sellerFor(r, req.SellerID),
		Title:         req.Title,
		Description:   req.Description,
		Price:         string(req.Price),
		StockQuantity: string(req.StockQuantity),
		ImageURL:      req.ImageURL,
		CategoryID:    string(req.CategoryID),
	}

	product, err := h.service.CreateProduct(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, MutationResponse{
		Success: true,
		Msg:     "Product created successfully",
		Product: product,
	})
}

// ListProducts handles GET /products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, products)
}

// ListVendorProducts handles GET /products/vendor/{vendor_id}
func (h *ProductHandler) ListVendorProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListSellerProducts(r.Context(), chi.URLParam(r, "vendor_id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, products)
}

// GetProduct handles GET /products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, product)
}

// UpdateProduct handles PUT /products/{id}
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req UpdateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := &service.UpdateProductInput{
		SellerID:      sellerFor(r, req.SellerID),
		Title:         req.Title,
		Description:   req.Description,
		Price:         req.Price.ptr(),
		StockQuantity: req.StockQuantity.ptr(),
		ImageURL:      req.ImageURL,
		CategoryID:    req.CategoryID.ptr(),
	}

	product, err := h.service.UpdateProduct(r.Context(), id, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MutationResponse{
		Success: true,
		Msg:     "Product updated successfully",
		Product: product,
	})
}

// DeleteProduct handles DELETE /products/{id}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	// The body is optional; without one the caller's own id is used.
	var req DeleteProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadBody(w, err)
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id, sellerFor(r, req.SellerID)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MutationResponse{
		Success: true,
		Msg:     "Product deleted successfully",
	})
}

// SearchProducts handles GET /products/search
func (h *ProductHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := h.service.SearchProducts(r.Context(), &service.SearchInput{
		Query:      q.Get("query"),
		CategoryID: q.Get("category_id"),
		MinPrice:   q.Get("min_price"),
		MaxPrice:   q.Get("max_price"),
		Limit:      q.Get("limit"),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, docs)
}

// Reindex handles POST /products/reindex
func (h *ProductHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Reindex(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ReindexResponse{Success: true, Indexed: n})
}

// sellerFor returns the seller id named in the request, falling back to the
// authenticated principal.
func sellerFor(r *http.Request, requested string) string {
	if requested != "" {
		return requested
	}
	return middleware.UserIDFromContext(r.Context())
}

func writeBadBody(w http.ResponseWriter, err error) {
	msg := "invalid request body: " + err.Error()
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "PAYLOAD_TOO_LARGE", Message: "request body too large"},
		})
		return
	}
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: msg},
	})
}
