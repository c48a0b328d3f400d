package kafka_middleware

import (
	"context"

	"medslots/pkg/kafka"
	"medslots/pkg/metrics"
)

// MetricsProducerMiddleware counts published messages by result.
func MetricsProducerMiddleware(m *metrics.Metrics) kafka.ProducerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next func(ctx context.Context, msg kafka.Message) error) error {
		err := next(ctx, msg)
		m.IncKafkaMessage("produce", err)
		return err
	}
}

// MetricsConsumerMiddleware counts consumed messages by result.
func MetricsConsumerMiddleware(m *metrics.Metrics) kafka.ConsumerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next kafka.MessageHandler) error {
		err := next(ctx, msg)
		m.IncKafkaMessage("consume", err)
		return err
	}
}
