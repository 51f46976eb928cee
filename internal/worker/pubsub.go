package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/api/middleware"
)

// PubSubHandler feeds control messages from a Pub/Sub subscription into a
// Runner.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	runner           *Runner
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Runner           *Runner
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// One control job at a time.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 2 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		runner:           cfg.Runner,
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is canceled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting control subscription")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if h.handleMessage(ctx, msg.ID, msg.PublishTime, msg.Data, msg.Attributes) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// handleMessage runs one message and reports whether it should be acked.
func (h *PubSubHandler) handleMessage(ctx context.Context, id string, published time.Time, data []byte, attrs map[string]string) bool {
	start := time.Now()

	requestID := attrs["request_id"]
	if requestID == "" {
		requestID = id
	}
	ctx = middleware.WithRequestID(ctx, requestID)

	logger := h.logger.With().
		Str("message_id", id).
		Str("request_id", requestID).
		Time("publish_time", published).
		Logger()

	logger.Debug().Msg("received control message")

	err := h.runner.Handle(ctx, data)
	switch {
	case err == nil:
		logger.Info().Dur("duration", time.Since(start)).Msg("control job completed")
		return true
	case errors.Is(err, ErrUnknownJob):
		logger.Warn().Err(err).Msg("dropping control message")
		return true
	default:
		logger.Error().Err(err).Msg("control job failed")
		return false
	}
}
