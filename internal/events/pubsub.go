package events

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubPublisher publishes events to a Google Cloud Pub/Sub topic,
// ordered per booking.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
	metrics   Metrics
}

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	Logger    zerolog.Logger
	Metrics   Metrics
}

// NewPubSubPublisher creates a Pub/Sub client and publisher.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(cfg.Topic)
	publisher.EnableMessageOrdering = true
	publisher.PublishSettings.DelayThreshold = 50 * time.Millisecond

	return &PubSubPublisher{
		client:    client,
		publisher: publisher,
		topic:     cfg.Topic,
		logger:    cfg.Logger.With().Str("component", "pubsub_publisher").Str("topic", cfg.Topic).Logger(),
		metrics:   cfg.Metrics,
	}, nil
}

// Publish sends the event and waits for the server acknowledgement.
func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := pubsubMessage(e)
	if err != nil {
		return err
	}

	start := time.Now()
	result := p.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if p.metrics != nil {
		p.metrics.ObservePublish("pubsub", e.Type, time.Since(start), err)
	}
	if err != nil {
		// Ordered publishing pauses a key after an error until resumed.
		p.publisher.ResumePublish(msg.OrderingKey)
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}

	p.logger.Debug().Str("message_id", id).Str("type", string(e.Type)).Msg("event published")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}

func pubsubMessage(e Event) (*pubsub.Message, error) {
	b, err := e.encode()
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return &pubsub.Message{
		Data:        b,
		OrderingKey: e.Key(),
		Attributes: map[string]string{
			"type":   string(e.Type),
			"source": e.Source,
		},
	}, nil
}
