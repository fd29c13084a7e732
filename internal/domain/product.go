package domain

import (
	"encoding/json"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/catalog-service/pkg/errors"
)

// Title length bounds, in runes.
const (
	TitleMinLength = 3
	TitleMaxLength = 100
)

// MaxStockQuantity is the largest value the INTEGER stock column holds.
const MaxStockQuantity = math.MaxInt32

// MaxPrice is the largest value a NUMERIC(10,2) column holds.
var MaxPrice = decimal.RequireFromString("99999999.99")

// Product is a catalog entry owned by a single seller.
type Product struct {
	ID            int64           `json:"id"`
	SellerID      string          `json:"seller_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	ImageURL      string          `json:"image_url"`
	CategoryID    int64           `json:"category_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarshalJSON emits price as a JSON number with two decimals.
func (p Product) MarshalJSON() ([]byte, error) {
	type alias Product
	return json.Marshal(struct {
		alias
		Price json.Number `json:"price"`
	}{
		alias: alias(p),
		Price: json.Number(p.Price.StringFixed(2)),
	})
}

// Normalize rounds the price to cents and trims surrounding whitespace.
func (p *Product) Normalize() {
	p.Price = p.Price.Round(2)
	p.SellerID = strings.TrimSpace(p.SellerID)
	p.Title = strings.TrimSpace(p.Title)
	p.ImageURL = strings.TrimSpace(p.ImageURL)
}

// Validate checks the product invariants and reports every violation keyed by
// its JSON field name.
func (p *Product) Validate() error {
	fields := make(map[string]string)

	if p.SellerID == "" {
		fields["seller_id"] = "seller_id is required"
	}

	switch n := utf8.RuneCountInString(p.Title); {
	case n == 0:
		fields["title"] = "title is required"
	case n < TitleMinLength || n > TitleMaxLength:
		fields["title"] = "title must be between 3 and 100 characters"
	}

	switch {
	case !p.Price.IsPositive():
		fields["price"] = "price must be greater than 0"
	case p.Price.GreaterThan(MaxPrice):
		fields["price"] = "price must not exceed 99999999.99"
	}

	switch {
	case p.StockQuantity < 0:
		fields["stock_quantity"] = "stock_quantity must be a non-negative integer"
	case p.StockQuantity > MaxStockQuantity:
		fields["stock_quantity"] = "stock_quantity must not exceed 2147483647"
	}

	if p.CategoryID <= 0 {
		fields["category_id"] = "category_id must be a positive integer"
	}

	if p.ImageURL != "" && !isHTTPURL(p.ImageURL) {
		fields["image_url"] = "image_url must be an absolute http or https URL"
	}

	if len(fields) > 0 {
		return apperrors.ValidationFailed(fields)
	}
	return nil
}

// OwnedBy reports whether sellerID owns the product.
func (p *Product) OwnedBy(sellerID string) bool {
	return p.SellerID == sellerID
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ProductPatch carries the mutable fields of an update. Nil fields are left
// unchanged.
type ProductPatch struct {
	Title         *string
	Description   *string
	Price         *decimal.Decimal
	StockQuantity *int
	ImageURL      *string
	CategoryID    *int64
}

// IsEmpty reports whether the patch changes nothing.
func (pp ProductPatch) IsEmpty() bool {
	return pp.Title == nil && pp.Description == nil && pp.Price == nil &&
		pp.StockQuantity == nil && pp.ImageURL == nil && pp.CategoryID == nil
}

// Apply writes the patch onto p. ID, SellerID and CreatedAt are never touched.
func (pp ProductPatch) Apply(p *Product) {
	if pp.Title != nil {
		p.Title = *pp.Title
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Price != nil {
		p.Price = *pp.Price
	}
	if pp.StockQuantity != nil {
		p.StockQuantity = *pp.StockQuantity
	}
	if pp.ImageURL != nil {
		p.ImageURL = *pp.ImageURL
	}
	if pp.CategoryID != nil {
		p.CategoryID = *pp.CategoryID
	}
}
