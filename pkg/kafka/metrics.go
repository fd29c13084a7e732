package kafka

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Publish outcome labels.
const (
	outcomePublished = "published"
	outcomeFailed    = "failed"
)

var (
	producerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_total",
			Help: "Kafka records written, by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	producerPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_producer_publish_duration_seconds",
			Help:    "Latency of synchronous Kafka writes",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"topic"},
	)
)

func observePublish(topic string, start time.Time, err error) {
	producerPublishDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	outcome := outcomePublished
	if err != nil {
		outcome = outcomeFailed
	}
	producerMessages.WithLabelValues(topic, outcome).Inc()
}
