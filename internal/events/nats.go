package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher publishes events on subjects of the form
// <prefix>.<event type>.<booking id>.
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	logger  zerolog.Logger
	metrics Metrics
}

// NATSConfig holds configuration for the NATS publisher.
type NATSConfig struct {
	URL string
	// Name is the client connection name. Default: "tripsim"
	Name string
	// SubjectPrefix is prepended to every subject. Default: "tripsim"
	SubjectPrefix string
	Logger        zerolog.Logger
	Metrics       Metrics
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.Name == "" {
		cfg.Name = "tripsim"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "tripsim"
	}
	logger := cfg.Logger.With().Str("component", "nats_publisher").Logger()

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	return &NATSPublisher{
		nc:      nc,
		prefix:  cfg.SubjectPrefix,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Publish sends the event as JSON.
func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	b, err := e.encode()
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	subject := Subject(p.prefix, e)
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.ObservePublish("nats", e.Type, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	p.logger.Debug().Str("subject", subject).Msg("event published")
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.nc.Close()
	return err
}

// Subject builds the NATS subject for an event.
func Subject(prefix string, e Event) string {
	return subjectToken(prefix) + "." + string(e.Type) + "." + subjectToken(e.Key())
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*' or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
