// Package events publishes booking and trip lifecycle events to a message bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/taxiride/tripsim/internal/geo"
)

// Type identifies an event.
type Type string

const (
	QuoteIssued      Type = "quote.issued"
	BookingConfirmed Type = "booking.confirmed"
	BookingCancelled Type = "booking.cancelled"
	BookingRebooked  Type = "booking.rebooked"
	TripPhaseChanged Type = "trip.phase_changed"
	TripPosition     Type = "trip.position"
	FleetReset       Type = "fleet.reset"
)

// Event is a lifecycle event. Only the fields relevant to Type are set.
type Event struct {
	ID              string          `json:"id"`
	Type            Type            `json:"type"`
	Source          string          `json:"source"`
	BookingID       string          `json:"booking_id,omitempty"`
	PreviousID      string          `json:"previous_booking_id,omitempty"`
	TaxiID          string          `json:"taxi_id,omitempty"`
	Phase           string          `json:"phase,omitempty"`
	PreviousPhase   string          `json:"previous_phase,omitempty"`
	Position        *geo.Coordinate `json:"position,omitempty"`
	Fare            float64         `json:"fare,omitempty"`
	CancellationFee float64         `json:"cancellation_fee,omitempty"`
	Message         string          `json:"message,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// NewEvent creates an event with a fresh id.
func NewEvent(source string, typ Type, bookingID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Source:     source,
		BookingID:  bookingID,
		OccurredAt: time.Now().UTC(),
	}
}

// Key returns the partition/ordering key of the event.
func (e Event) Key() string {
	if e.BookingID != "" {
		return e.BookingID
	}
	return e.ID
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends events to a bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Metrics receives publish outcomes.
type Metrics interface {
	ObservePublish(backend string, typ Type, duration time.Duration, err error)
}

// NoopPublisher discards events.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }

// MultiPublisher fans events out to several publishers.
type MultiPublisher []Publisher

// Publish sends the event to every publisher and joins their errors.
func (m MultiPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = NoopPublisher{}
	_ Publisher = MultiPublisher(nil)
)
