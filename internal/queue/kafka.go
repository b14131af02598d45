package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/arequipa/aire-server/internal/logger"
	"github.com/arequipa/aire-server/internal/metrics"
	"github.com/arequipa/aire-server/pkg/config"
)

// ErrProducerClosed is returned by Publish after Close
var ErrProducerClosed = errors.New("producer is closed")

// ProducerConfig configures a Kafka producer
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	Compression  string
	RequiredAcks int
	MaxRetries   int
	RetryBackoff time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer with retries and metrics
type Producer struct {
	writer  messageWriter
	topic   string
	retries int
	backoff time.Duration
	closed  atomic.Bool
}

// NewProducer creates a synchronous producer that partitions by key
func NewProducer(cfg ProducerConfig) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // partition by key (station id)
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  compression(cfg.Compression),
		Async:        false,
	}
	return newProducer(writer, cfg)
}

// NewProducerFromConfig creates a producer for topic from the Kafka settings
func NewProducerFromConfig(cfg config.KafkaConfig, topic string) *Producer {
	return NewProducer(ProducerConfig{
		Brokers:      cfg.Brokers,
		Topic:        topic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: 10 * time.Second,
		Compression:  cfg.Compression,
		RequiredAcks: cfg.RequiredAcks,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	})
}

func newProducer(w messageWriter, cfg ProducerConfig) *Producer {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Producer{writer: w, topic: cfg.Topic, retries: cfg.MaxRetries, backoff: backoff}
}

func compression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Publish sends one keyed message
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	return p.PublishBatch(ctx, []kafka.Message{{Key: []byte(key), Value: value, Time: time.Now()}})
}

// PublishBatch sends messages in one write, retrying with exponential backoff
func (p *Producer) PublishBatch(ctx context.Context, messages []kafka.Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if len(messages) == 0 {
		return nil
	}

	if err := p.writeWithRetry(ctx, messages); err != nil {
		metrics.KafkaPublishTotal.WithLabelValues(p.topic, "failed").Add(float64(len(messages)))
		return err
	}
	metrics.KafkaPublishTotal.WithLabelValues(p.topic, "success").Add(float64(len(messages)))
	return nil
}

func (p *Producer) writeWithRetry(ctx context.Context, messages []kafka.Message) error {
	log := logger.WithComponent("kafka-producer")
	backoff := p.backoff

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Str("topic", p.topic).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.writer.WriteMessages(ctx, messages...)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed to write %d messages after %d attempts: %w", len(messages), p.retries+1, lastErr)
}

// Close closes the producer
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// Consumer wraps a Kafka consumer group reader with manual commits
type Consumer struct {
	reader messageReader
	topic  string
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			CommitInterval: 0,    // commit explicitly after handling
			StartOffset:    kafka.FirstOffset,
		}),
		topic: topic,
	}
}

// Topic returns the topic the consumer reads
func (c *Consumer) Topic() string {
	return c.topic
}

// Consume fetches the next message without committing it
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// Commit commits the message offset
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns consumer statistics
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// CreateTopic creates a topic through the cluster controller. An existing
// topic is not an error.
func CreateTopic(brokers []string, topic string, numPartitions, replicationFactor int) error {
	if len(brokers) == 0 {
		return errors.New("no brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	log := logger.WithComponent("kafka")
	log.Info().
		Str("topic", topic).
		Int("partitions", numPartitions).
		Msg("topic ready")
	return nil
}
