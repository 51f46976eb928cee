package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to a Kafka topic keyed by booking id.
type KafkaPublisher struct {
	writer  *kafka.Writer
	logger  zerolog.Logger
	metrics Metrics
}

// KafkaConfig holds configuration for the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Logger  zerolog.Logger
	Metrics Metrics
}

// NewKafkaPublisher creates a writer. Connections are opened lazily.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{
		writer:  writer,
		logger:  cfg.Logger.With().Str("component", "kafka_publisher").Str("topic", cfg.Topic).Logger(),
		metrics: cfg.Metrics,
	}, nil
}

// Publish writes the event synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := kafkaMessage(e)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	if p.metrics != nil {
		p.metrics.ObservePublish("kafka", e.Type, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("writing to kafka: %w", err)
	}

	p.logger.Debug().Str("type", string(e.Type)).Msg("event published")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func kafkaMessage(e Event) (kafka.Message, error) {
	b, err := e.encode()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.Key()),
		Value: b,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
			{Key: "source", Value: []byte(e.Source)},
		},
	}, nil
}
