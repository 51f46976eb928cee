package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Config selects the event backends. Every backend with its settings filled
// in is enabled; with none, events are discarded.
type Config struct {
	NATSURL string

	PubSubProjectID string
	PubSubTopic     string

	KafkaBrokers []string
	KafkaTopic   string

	// ClientName names the NATS connection and prefixes NATS subjects.
	ClientName string
}

// New builds a publisher for every configured backend. On error, publishers
// that were already created are closed.
func New(ctx context.Context, cfg Config, logger zerolog.Logger, metrics Metrics) (Publisher, error) {
	var publishers MultiPublisher

	fail := func(err error) (Publisher, error) {
		_ = publishers.Close()
		return nil, err
	}

	if cfg.NATSURL != "" {
		p, err := NewNATSPublisher(NATSConfig{
			URL:           cfg.NATSURL,
			Name:          cfg.ClientName,
			SubjectPrefix: cfg.ClientName,
			Logger:        logger,
			Metrics:       metrics,
		})
		if err != nil {
			return fail(err)
		}
		publishers = append(publishers, p)
	}

	if cfg.PubSubProjectID != "" || cfg.PubSubTopic != "" {
		if cfg.PubSubProjectID == "" || cfg.PubSubTopic == "" {
			return fail(errors.New("pubsub: both project id and topic are required"))
		}
		p, err := NewPubSubPublisher(ctx, PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			Topic:     cfg.PubSubTopic,
			Logger:    logger,
			Metrics:   metrics,
		})
		if err != nil {
			return fail(err)
		}
		publishers = append(publishers, p)
	}

	if len(cfg.KafkaBrokers) > 0 {
		p, err := NewKafkaPublisher(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  logger,
			Metrics: metrics,
		})
		if err != nil {
			return fail(fmt.Errorf("creating kafka publisher: %w", err))
		}
		publishers = append(publishers, p)
	}

	switch len(publishers) {
	case 0:
		logger.Info().Msg("no event backend configured, events are discarded")
		return NoopPublisher{}, nil
	case 1:
		return publishers[0], nil
	default:
		return publishers, nil
	}
}
