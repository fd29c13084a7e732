package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/catalog-service/internal/service"
	"github.com/utafrali/catalog-service/pkg/health"
	"github.com/utafrali/catalog-service/pkg/httputil"
	"github.com/utafrali/catalog-service/pkg/middleware"
)

// Roles admitted by the protected routes.
const (
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// RouterConfig carries the settings the router needs beyond its handlers.
type RouterConfig struct {
	ServiceName    string
	ServiceVersion string
	CacheMaxAge    int
	CORS           middleware.CORSConfig
	PprofCIDRs     []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter creates a chi router with all catalog routes registered. Product
// routes are served under both /products and /api/products.
func NewRouter(
	cfg RouterConfig,
	productService *service.ProductService,
	verifier middleware.TokenVerifier,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "Product Service is up and running!",
			"service": cfg.ServiceName,
			"version": cfg.ServiceVersion,
		})
	})

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	productHandler := NewProductHandler(productService, logger)
	// One limiter shared by both mounts.
	limit := middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	routes := productRoutes(productHandler, verifier, limit, cfg.CacheMaxAge)

	r.Route("/products", routes)
	r.Route("/api/products", routes)

	return r
}

func productRoutes(
	h *ProductHandler,
	verifier middleware.TokenVerifier,
	limit func(http.Handler) http.Handler,
	cacheMaxAge int,
) func(chi.Router) {
	return func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.CacheControl(cacheMaxAge))

			r.Get("/", h.ListProducts)
			r.Get("/search", h.SearchProducts)
			r.Get("/vendor/{vendor_id}", h.ListVendorProducts)
			r.Get("/{id}", h.GetProduct)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(verifier))
			r.Use(limit)

			r.With(middleware.RequireRole(RoleSeller)).Post("/", h.CreateProduct)
			r.With(middleware.RequireRole(RoleSeller)).Put("/{id}", h.UpdateProduct)
			r.With(middleware.RequireRole(RoleSeller)).Delete("/{id}", h.DeleteProduct)
			r.With(middleware.RequireRole(RoleAdmin)).Post("/reindex", h.Reindex)
		})
	}
}
