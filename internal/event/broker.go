package event

import (
	"context"

	"github.com/utafrali/catalog-service/pkg/kafka"
	"github.com/utafrali/catalog-service/pkg/rabbitmq"
)

// RabbitMQBroker publishes to durable RabbitMQ queues.
type RabbitMQBroker struct {
	client *rabbitmq.Client
}

// NewRabbitMQBroker wraps client.
func NewRabbitMQBroker(client *rabbitmq.Client) *RabbitMQBroker {
	return &RabbitMQBroker{client: client}
}

// Publish sends msg as a persistent JSON message to queue.
func (b *RabbitMQBroker) Publish(ctx context.Context, queue string, msg Message) error {
	return b.client.Publish(ctx, queue, rabbitmq.Message{
		ID:          msg.ID,
		ContentType: "application/json",
		Headers:     map[string]string{"event": msg.Name},
		Body:        msg.Body,
	})
}

// KafkaBroker publishes to Kafka, using the queue name as the topic.
type KafkaBroker struct {
	producer *kafka.Producer
}

// NewKafkaBroker wraps producer.
func NewKafkaBroker(producer *kafka.Producer) *KafkaBroker {
	return &KafkaBroker{producer: producer}
}

// Publish writes msg to the topic named after queue, keyed by msg.Key.
func (b *KafkaBroker) Publish(ctx context.Context, queue string, msg Message) error {
	return b.producer.Publish(ctx, queue, kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Headers: map[string]string{
			"event_id":     msg.ID,
			"event_type":   msg.Name,
			"content_type": "application/json",
		},
	})
}
