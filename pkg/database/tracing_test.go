package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	return exporter
}

func spanAttrs(span tracetest.SpanStub) map[string]string {
	attrs := make(map[string]string, len(span.Attributes))
	for _, a := range span.Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	return attrs
}

func observedQueries(t *testing.T, operation, outcome string) uint64 {
	t.Helper()
	m, ok := queryDuration.WithLabelValues(operation, outcome).(prometheus.Metric)
	require.True(t, ok)
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return out.GetHistogram().GetSampleCount()
}

func TestTraceQuery_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantOutcome string
		wantStatus  codes.Code
		wantEvents  bool
	}{
		{name: "ok", wantOutcome: queryOK, wantStatus: codes.Unset},
		{name: "no rows", err: fmt.Errorf("get product: %w", pgx.ErrNoRows), wantOutcome: queryNoRows, wantStatus: codes.Unset},
		{name: "failure", err: errors.New("connection refused"), wantOutcome: queryError, wantStatus: codes.Error, wantEvents: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := useTestTracer(t)
			op := "GetProduct_" + tt.name
			const stmt = "SELECT id, title FROM products WHERE id = $1"

			_, end := TraceQuery(context.Background(), op, stmt)
			end(tt.err)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, "db."+op, span.Name)
			assert.Equal(t, tt.wantStatus, span.Status.Code)
			assert.Equal(t, tt.wantEvents, len(span.Events) > 0)

			attrs := spanAttrs(span)
			assert.Equal(t, "postgresql", attrs["db.system"])
			assert.Equal(t, op, attrs["db.operation"])
			assert.Equal(t, stmt, attrs["db.statement"])
			assert.Equal(t, tt.wantOutcome, attrs["db.outcome"])

			assert.Equal(t, uint64(1), observedQueries(t, op, tt.wantOutcome))
		})
	}
}

func TestTraceQuery_ChildOfRequestSpan(t *testing.T) {
	exporter := useTestTracer(t)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "PUT /products/{id}")
	_, end := TraceQuery(ctx, "UpdateProduct", "UPDATE products SET title = $1 WHERE id = $2")
	end(nil)
	parent.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "db.UpdateProduct", spans[0].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestSlowQueryLogging(t *testing.T) {
	tests := []struct {
		name      string
		threshold time.Duration
		err       error
		wantLog   bool
	}{
		{name: "slow", threshold: time.Nanosecond, wantLog: true},
		{name: "slow with error", threshold: time.Nanosecond, err: errors.New("unique constraint violation"), wantLog: true},
		{name: "fast", threshold: time.Hour},
		{name: "disabled", threshold: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useTestTracer(t)
			var buf bytes.Buffer
			SetSlowQueryLogging(tt.threshold, slog.New(slog.NewJSONHandler(&buf, nil)))
			t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

			_, end := TraceQuery(context.Background(), "ListProducts", "SELECT * FROM products ORDER BY id")
			end(tt.err)

			out := buf.String()
			if !tt.wantLog {
				assert.Empty(t, out)
				return
			}
			assert.Contains(t, out, "slow query detected")
			assert.Contains(t, out, "ListProducts")
			assert.Contains(t, out, "SELECT * FROM products ORDER BY id")
			if tt.err != nil {
				assert.Contains(t, out, tt.err.Error())
			}
		})
	}
}

func TestSlowQueryLogging_NilLoggerDisables(t *testing.T) {
	useTestTracer(t)
	SetSlowQueryLogging(time.Nanosecond, nil)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	assert.Nil(t, slowQuery.Load())
	_, end := TraceQuery(context.Background(), "GetProduct", "SELECT 1")
	assert.NotPanics(t, func() { end(nil) })
}

func TestSetSlowQueryLogging_Concurrent(t *testing.T) {
	useTestTracer(t)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 100 {
			SetSlowQueryLogging(time.Duration(i+1)*time.Hour, logger)
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			_, end := TraceQuery(context.Background(), "GetProduct", "SELECT 1")
			end(nil)
		}
	}()
	wg.Wait()
}
