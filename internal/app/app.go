package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/catalog-service/internal/config"
	"github.com/utafrali/catalog-service/internal/engine"
	esengine "github.com/utafrali/catalog-service/internal/engine/elasticsearch"
	"github.com/utafrali/catalog-service/internal/engine/memory"
	"github.com/utafrali/catalog-service/internal/event"
	handler "github.com/utafrali/catalog-service/internal/handler/http"
	"github.com/utafrali/catalog-service/internal/identity"
	"github.com/utafrali/catalog-service/internal/indexsync"
	"github.com/utafrali/catalog-service/internal/repository/postgres"
	"github.com/utafrali/catalog-service/internal/service"
	"github.com/utafrali/catalog-service/migrations"
	"github.com/utafrali/catalog-service/pkg/database"
	"github.com/utafrali/catalog-service/pkg/health"
	pkgkafka "github.com/utafrali/catalog-service/pkg/kafka"
	"github.com/utafrali/catalog-service/pkg/middleware"
	"github.com/utafrali/catalog-service/pkg/rabbitmq"
	"github.com/utafrali/catalog-service/pkg/tracing"
)

// App wires together all dependencies and runs the catalog service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	broker         io.Closer
	httpServer     *http.Server
	health         *health.Handler
	productService *service.ProductService
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Failing to reach the store or the event broker is fatal.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Insecure:       cfg.OTELInsecure,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL", slog.String("database", cfg.PostgresDB))
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool, cfg.ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if cfg.DBRunMigrations {
		if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")
	}

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	healthHandler := health.NewHandler()
	a.health = healthHandler
	healthHandler.RegisterCritical("postgres", a.pool.Ping)

	// Search engine.
	eng, err := newSearchEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	healthHandler.RegisterNonCritical("search", eng.Ping)

	// Event broker.
	broker, err := a.newBroker(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	// Identity service.
	identityClient := identity.NewClient(identity.ClientConfig{
		BaseURL:    cfg.AuthServiceURL,
		Timeout:    cfg.AuthServiceTimeout,
		MaxRetries: cfg.AuthServiceRetries,
	}, identity.NewServiceTokenSigner(cfg.JWTSecret, cfg.ServiceTokenName, cfg.ServiceTokenTTL), logger)

	var verifier middleware.TokenVerifier = identityClient
	if cfg.TokenCacheEnabled() {
		a.redis, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		verifier = identity.NewCachingVerifier(identityClient,
			identity.NewRedisTokenCache(a.redis, cfg.TokenCacheTTL), logger)
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
		logger.Info("token verification cache enabled", slog.Duration("ttl", cfg.TokenCacheTTL))
	}

	// Build the dependency graph.
	a.productService = service.NewProductService(service.Deps{
		Repo:     postgres.NewProductRepository(a.pool),
		Sellers:  identityClient,
		Index:    indexsync.New(eng, cfg.IndexSyncTimeout, logger),
		Searcher: eng,
		Events:   event.NewPublisher(broker, cfg.EventPublishTimeout, logger),
		Policy:   service.EventPolicy(cfg.InventoryEventPolicy),
		Logger:   logger,
	})

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSOrigins
	cors.Environment = cfg.Environment

	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		CacheMaxAge:    cfg.CacheMaxAgeSecs,
		CORS:           cors,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, a.productService, verifier, healthHandler, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func newSearchEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.SearchEngine, error) {
	if cfg.SearchEngine == config.SearchMemory {
		logger.Info("in-memory search engine initialized")
		return memory.New(), nil
	}

	eng, err := esengine.New(ctx, esengine.Config{
		URL:      cfg.ElasticsearchURL,
		Username: cfg.ElasticUsername,
		Password: cfg.ElasticPassword,
		Index:    cfg.ElasticIndex,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init elasticsearch engine: %w", err)
	}
	logger.Info("elasticsearch search engine initialized",
		slog.String("url", cfg.ElasticsearchURL),
		slog.String("index", cfg.ElasticIndex),
	)
	return eng, nil
}

func (a *App) newBroker(ctx context.Context, hh *health.Handler) (event.Broker, error) {
	switch a.cfg.EventBroker {
	case config.BrokerKafka:
		if err := pkgkafka.PingBrokers(ctx, a.cfg.KafkaBrokers); err != nil {
			return nil, fmt.Errorf("connect to kafka: %w", err)
		}
		kcfg := pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers)
		kcfg.TopicPrefix = a.cfg.KafkaTopicPrefix
		producer := pkgkafka.NewProducer(kcfg, a.logger)
		a.broker = producer
		hh.RegisterCritical("kafka", producer.Ping)
		a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))
		return event.NewKafkaBroker(producer), nil

	default:
		client, err := rabbitmq.Dial(a.cfg.RabbitMQURL, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		a.broker = client
		for _, q := range []string{event.QueueProductEvents, event.QueueInventoryUpdates} {
			if err := client.DeclareQueue(q); err != nil {
				return nil, fmt.Errorf("declare queue %s: %w", q, err)
			}
		}
		hh.RegisterCritical("rabbitmq", client.Ping)
		a.logger.Info("rabbitmq connection established")
		return event.NewRabbitMQBroker(client), nil
	}
}

// Run starts the HTTP server, then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops accepting requests, drains dispatched side effects and
// releases every connection.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	if a.health != nil {
		a.health.SetDraining(true)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	drained := make(chan struct{})
	go func() {
		a.productService.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		a.logger.Warn("side effects still running at shutdown deadline")
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Error("event broker close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
