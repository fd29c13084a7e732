package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/catalog-service/internal/domain"
)

// Queue names.
const (
	QueueProductEvents    = "product_events"
	QueueInventoryUpdates = "inventory_updates"
)

// Event names.
const (
	ProductCreated   = "product_created"
	InventoryUpdated = "inventory_updated"
)

// DefaultTimeout bounds a single publish when none is configured.
const DefaultTimeout = 5 * time.Second

var eventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "catalog_events_published_total",
		Help: "Total number of domain events published, by outcome",
	},
	[]string{"event", "status"},
)

// Message is an encoded event ready for a broker.
type Message struct {
	ID   string
	Name string
	Key  string
	Body []byte
}

// Broker delivers messages to a named durable queue.
type Broker interface {
	Publish(ctx context.Context, queue string, msg Message) error
}

// ProductCreatedPayload announces a new product to the seller notification
// consumer.
type ProductCreatedPayload struct {
	ProductID      int64       `json:"product_id"`
	SellerID       string      `json:"seller_id"`
	RecipientEmail string      `json:"recipient_email"`
	Title          string      `json:"title"`
	Price          json.Number `json:"price"`
	CategoryID     int64       `json:"category_id"`
}

// InventoryUpdatedPayload carries the new stock level of a product.
type InventoryUpdatedPayload struct {
	ProductID     int64 `json:"product_id"`
	StockQuantity int   `json:"stock_quantity"`
}

// Publisher encodes domain events as flat JSON objects of the form
// {"event": name, ...payload} and hands them to a Broker.
type Publisher struct {
	broker  Broker
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. A non-positive timeout selects
// DefaultTimeout.
func NewPublisher(broker Broker, timeout time.Duration, logger *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Publisher{broker: broker, timeout: timeout, logger: logger}
}

// Publish encodes payload under name and sends it to queue. key selects the
// partition on brokers that have one.
func (p *Publisher) Publish(ctx context.Context, queue, name, key string, payload any) error {
	body, err := Encode(name, payload)
	if err != nil {
		eventsPublished.WithLabelValues(name, "error").Inc()
		return err
	}

	msg := Message{ID: uuid.NewString(), Name: name, Key: key, Body: body}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.broker.Publish(ctx, queue, msg); err != nil {
		eventsPublished.WithLabelValues(name, "error").Inc()
		p.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("event", name),
			slog.String("queue", queue),
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish %s to %s: %w", name, queue, err)
	}

	eventsPublished.WithLabelValues(name, "ok").Inc()
	p.logger.InfoContext(ctx, "event published",
		slog.String("event", name),
		slog.String("queue", queue),
		slog.String("message_id", msg.ID),
	)
	return nil
}

// PublishProductCreated announces p to the seller at email.
func (p *Publisher) PublishProductCreated(ctx context.Context, product *domain.Product, email string) error {
	return p.Publish(ctx, QueueProductEvents, ProductCreated, productKey(product.ID), ProductCreatedPayload{
		ProductID:      product.ID,
		SellerID:       product.SellerID,
		RecipientEmail: email,
		Title:          product.Title,
		Price:          json.Number(product.Price.StringFixed(2)),
		CategoryID:     product.CategoryID,
	})
}

// PublishInventoryUpdated announces the current stock level of product.
func (p *Publisher) PublishInventoryUpdated(ctx context.Context, product *domain.Product) error {
	return p.Publish(ctx, QueueInventoryUpdates, InventoryUpdated, productKey(product.ID), InventoryUpdatedPayload{
		ProductID:     product.ID,
		StockQuantity: product.StockQuantity,
	})
}

// Encode renders payload, which must encode as a JSON object, with an
// "event" member set to name.
func Encode(name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%s payload is not a JSON object: %w", name, err)
	}
	nameJSON, err := json.Marshal(name)
	if err != nil {
		return nil, fmt.Errorf("marshal event name: %w", err)
	}
	fields["event"] = nameJSON

	return json.Marshal(fields)
}

func productKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
