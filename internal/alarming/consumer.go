package alarming

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/internal/protocol"
)

// MessageSource is a committing Kafka reader
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Consumer feeds measurements from Kafka into the evaluator
type Consumer struct {
	source    MessageSource
	evaluator *Evaluator
	topic     string
}

// NewConsumer creates a consumer for topic
func NewConsumer(source MessageSource, evaluator *Evaluator, topic string) *Consumer {
	return &Consumer{source: source, evaluator: evaluator, topic: topic}
}

// Run consumes until ctx is cancelled. Undecodable messages are committed
// and dropped; evaluation failures are logged and the offset still moves on.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("alerting-consumer")

	for {
		msg, err := c.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("failed to consume message")
			continue
		}

		c.handle(ctx, msg)

		if err := c.source.Commit(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	log := logger.WithComponent("alerting-consumer")

	measurement, err := protocol.DecodeStationMeasurement(msg.Value)
	if err != nil {
		metrics.KafkaConsumeTotal.WithLabelValues(c.topic, "dropped").Inc()
		log.Warn().Err(err).Int64("offset", msg.Offset).Msg("failed to decode measurement")
		return
	}

	if _, err := c.evaluator.EvaluateMeasurement(ctx, measurement); err != nil {
		metrics.KafkaConsumeTotal.WithLabelValues(c.topic, "failed").Inc()
		log.Error().Err(err).Int64("station_id", measurement.StationID).Msg("failed to evaluate measurement")
		return
	}
	metrics.KafkaConsumeTotal.WithLabelValues(c.topic, "handled").Inc()
}
