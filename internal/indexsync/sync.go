package indexsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/catalog-service/internal/domain"
	"github.com/utafrali/catalog-service/internal/engine"
)

// Operation labels.
const (
	OpUpsert  = "upsert"
	OpRemove  = "remove"
	OpReindex = "reindex"
	OpPrune   = "prune"
)

// DefaultTimeout bounds a single index call when none is configured.
const DefaultTimeout = 5 * time.Second

const reindexBatchSize = 500

var (
	syncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_index_sync_failures_total",
			Help: "Total number of search index operations that failed and were swallowed",
		},
		[]string{"op"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_index_sync_duration_seconds",
			Help:    "Duration of search index operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Synchronizer keeps the search index in step with the store. Upsert and
// Remove never fail: errors are logged with the product id, counted, and
// dropped, because the index can always be rebuilt with Reindex.
type Synchronizer struct {
	engine  engine.SearchEngine
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Synchronizer. A non-positive timeout selects DefaultTimeout.
func New(eng engine.SearchEngine, timeout time.Duration, logger *slog.Logger) *Synchronizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Synchronizer{engine: eng, timeout: timeout, logger: logger}
}

// Upsert indexes the current state of p.
func (s *Synchronizer) Upsert(ctx context.Context, p *domain.Product) {
	doc := engine.DocumentFromProduct(p)
	s.run(ctx, OpUpsert, p.ID, func(ctx context.Context) error {
		return s.engine.Index(ctx, &doc)
	})
}

// Remove deletes the document for id.
func (s *Synchronizer) Remove(ctx context.Context, id int64) {
	s.run(ctx, OpRemove, id, func(ctx context.Context) error {
		return s.engine.Delete(ctx, id)
	})
}

// run executes fn detached from ctx's cancellation under its own timeout so
// an abandoned request does not abort the index write.
func (s *Synchronizer) run(ctx context.Context, op string, id int64, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	syncDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		syncFailures.WithLabelValues(op).Inc()
		s.logger.ErrorContext(ctx, "search index sync failed",
			slog.String("op", op),
			slog.Int64("product_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Reindex bulk-writes products into the index in batches, then prunes
// documents for products no longer in the store, so a swallowed Remove is
// also reconciled. It returns the number of documents written. Unlike
// Upsert it reports failure, since it is invoked explicitly. Nothing is
// pruned when a batch fails.
func (s *Synchronizer) Reindex(ctx context.Context, products []domain.Product) (int, error) {
	indexed := 0
	keep := make([]int64, 0, len(products))
	for start := 0; start < len(products); start += reindexBatchSize {
		end := min(start+reindexBatchSize, len(products))

		docs := make([]engine.Document, 0, end-start)
		for i := start; i < end; i++ {
			docs = append(docs, engine.DocumentFromProduct(&products[i]))
			keep = append(keep, products[i].ID)
		}

		t := time.Now()
		err := s.engine.BulkIndex(ctx, docs)
		syncDuration.WithLabelValues(OpReindex).Observe(time.Since(t).Seconds())
		if err != nil {
			syncFailures.WithLabelValues(OpReindex).Inc()
			return indexed, fmt.Errorf("reindex batch at offset %d: %w", start, err)
		}
		indexed += len(docs)
	}

	t := time.Now()
	pruned, err := s.engine.Prune(ctx, keep)
	syncDuration.WithLabelValues(OpPrune).Observe(time.Since(t).Seconds())
	if err != nil {
		syncFailures.WithLabelValues(OpPrune).Inc()
		return indexed, fmt.Errorf("prune stale documents: %w", err)
	}

	s.logger.InfoContext(ctx, "search index rebuilt",
		slog.Int("count", indexed),
		slog.Int("pruned", pruned),
	)
	return indexed, nil
}
