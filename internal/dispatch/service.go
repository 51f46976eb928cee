// Package dispatch is the reference booking service: it quotes trips, hands
// out taxis, stores bookings and prices cancellations.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/taxiride/tripsim/internal/booking"
	"github.com/taxiride/tripsim/internal/events"
	"github.com/taxiride/tripsim/internal/fleet"
	"github.com/taxiride/tripsim/internal/geo"
	"github.com/taxiride/tripsim/internal/geocode"
	"github.com/taxiride/tripsim/internal/policy"
	"github.com/taxiride/tripsim/internal/weather"
)

const (
	tracerName  = "github.com/taxiride/tripsim/internal/dispatch"
	eventSource = "dispatch"
)

// WeatherSource describes current conditions at a point.
type WeatherSource interface {
	Describe(ctx context.Context, lat, lng float64) string
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds configuration for creating a Service.
type Config struct {
	Geocoder   geocode.Geocoder
	Weather    WeatherSource // nil reports clear weather
	Taxis      TaxiStore
	Simulator  *Simulator // nil disables simulated taxis
	Repository Repository
	Publisher  events.Publisher

	// AverageSpeedKmh turns distance into ETA (default 25).
	AverageSpeedKmh float64

	// Now is the service clock (default time.Now).
	Now func() time.Time

	Logger zerolog.Logger
}

// Service implements the dispatch operations.
type Service struct {
	geocoder  geocode.Geocoder
	weather   WeatherSource
	taxis     TaxiStore
	simulator *Simulator
	repo      Repository
	publisher events.Publisher
	speedKmh  float64
	now       func() time.Time
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	speed := cfg.AverageSpeedKmh
	if speed <= 0 {
		speed = DefaultAverageSpeedKmh
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	geocoder := cfg.Geocoder
	if geocoder == nil {
		geocoder = geocode.Literal{}
	}

	return &Service{
		geocoder:  geocoder,
		weather:   cfg.Weather,
		taxis:     cfg.Taxis,
		simulator: cfg.Simulator,
		repo:      cfg.Repository,
		publisher: publisher,
		speedKmh:  speed,
		now:       now,
		logger:    cfg.Logger.With().Str("component", "dispatch").Logger(),
		tracer:    otel.Tracer(tracerName),
	}
}

// Estimate quotes a trip from pickup to drop using the nearest available
// taxi. Nothing is locked or stored.
func (s *Service) Estimate(ctx context.Context, pickup, drop string) (*booking.Quote, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.Estimate", trace.WithAttributes(
		attribute.String("pickup", pickup),
		attribute.String("drop", drop),
	))
	defer span.End()

	pickupAt, dropAt, err := s.geocodePair(ctx, pickup, drop)
	if err != nil {
		return nil, fail(span, err)
	}

	taxis, err := s.ListTaxis(ctx)
	if err != nil {
		return nil, fail(span, err)
	}
	taxi, ok := Nearest(pickupAt, taxis)
	if !ok {
		return nil, fail(span, reject(ErrNoTaxis, MsgNoTaxis))
	}

	approachKm := Round2(geo.DistanceKm(taxi.Coordinate(), pickupAt))
	tripKm := Round2(geo.DistanceKm(pickupAt, dropAt))

	conditions := weather.DefaultDescription
	if s.weather != nil {
		conditions = s.weather.Describe(ctx, pickupAt.Lat, pickupAt.Lng)
	}
	surge := weather.SurgeMultiplier(conditions)

	q := &booking.Quote{
		ID:                uuid.NewString(),
		Taxi:              taxi.ID,
		Pickup:            pickup,
		Drop:              drop,
		DistanceKm:        tripKm,
		EtaMin:            EtaMinutes(tripKm, s.speedKmh),
		Weather:           conditions,
		Fare:              Fare(tripKm, surge),
		PickupLat:         pickupAt.Lat,
		PickupLng:         pickupAt.Lng,
		DropLat:           dropAt.Lat,
		DropLng:           dropAt.Lng,
		TaxiStartLat:      taxi.Lat,
		TaxiStartLng:      taxi.Lng,
		TaxiEtaMin:        EtaMinutes(approachKm, s.speedKmh),
		TaxiDistanceKm:    approachKm,
		TaxiRoutePolyline: StraightRoute(taxi.Coordinate(), pickupAt),
		TripRoutePolyline: StraightRoute(pickupAt, dropAt),
	}

	span.SetAttributes(
		attribute.String("taxi_id", q.Taxi),
		attribute.Float64("fare", q.Fare),
		attribute.Float64("surge", surge),
	)
	s.logger.Info().
		Str("quote_id", q.ID).
		Str("taxi_id", q.Taxi).
		Float64("distance_km", q.DistanceKm).
		Str("weather", q.Weather).
		Float64("fare", q.Fare).
		Msg("quote issued")

	e := events.NewEvent(eventSource, events.QuoteIssued, "")
	e.TaxiID = q.Taxi
	e.Fare = q.Fare
	s.publish(ctx, e)

	return q, nil
}

// geocodePair resolves both addresses concurrently. When both fail the
// pickup error is reported.
func (s *Service) geocodePair(ctx context.Context, pickup, drop string) (geo.Coordinate, geo.Coordinate, error) {
	var (
		pickupAt, dropAt   geo.Coordinate
		pickupErr, dropErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pickupAt, pickupErr = s.geocoder.Geocode(gctx, pickup)
		return nil
	})
	g.Go(func() error {
		dropAt, dropErr = s.geocoder.Geocode(gctx, drop)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return geo.Coordinate{}, geo.Coordinate{}, err
	}
	if pickupErr != nil {
		return geo.Coordinate{}, geo.Coordinate{}, locationNotFound(pickup, pickupErr)
	}
	if dropErr != nil {
		return geo.Coordinate{}, geo.Coordinate{}, locationNotFound(drop, dropErr)
	}
	return pickupAt, dropAt, nil
}

// Confirm books a quote. Fleet-managed taxis are locked; simulated taxis
// can be booked any number of times.
func (s *Service) Confirm(ctx context.Context, q booking.Quote) (*booking.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.Confirm", trace.WithAttributes(
		attribute.String("taxi_id", q.Taxi),
	))
	defer span.End()

	if q.Taxi == "" {
		return nil, fail(span, reject(ErrInvalidQuote, "Quote has no taxi"))
	}

	managed := !isSimulated(q.Taxi)
	if managed {
		locked, err := s.taxis.Lock(ctx, q.Taxi)
		if err != nil {
			return nil, fail(span, fmt.Errorf("locking taxi: %w", err))
		}
		if !locked {
			return nil, fail(span, reject(ErrTaxiUnavailable, MsgTaxiUnavailable))
		}
	}

	b := &booking.Booking{
		Quote:     q,
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		if managed {
			s.release(ctx, q.Taxi)
		}
		return nil, fail(span, fmt.Errorf("storing booking: %w", err))
	}

	span.SetAttributes(attribute.String("booking_id", b.ID))
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("taxi_id", b.Taxi).
		Float64("fare", b.Fare).
		Msg("booking confirmed")

	e := events.NewEvent(eventSource, events.BookingConfirmed, b.ID)
	e.TaxiID = b.Taxi
	e.Fare = b.Fare
	s.publish(ctx, e)

	return b, nil
}

// EstimateCancelFee reports what cancelling the booking would cost now.
func (s *Service) EstimateCancelFee(ctx context.Context, id string) (*policy.FeeEstimate, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.EstimateCancelFee", trace.WithAttributes(
		attribute.String("booking_id", id),
	))
	defer span.End()

	b, err := s.get(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}

	elapsed := s.elapsed(b)
	if elapsed <= FreeCancelWindow {
		return &policy.FeeEstimate{FeeApplied: false, CancellationFee: 0}, nil
	}
	return &policy.FeeEstimate{FeeApplied: true, CancellationFee: CancellationFee(*b, elapsed)}, nil
}

// Cancel removes the booking and frees its taxi. A fee applies once the
// free window has passed.
func (s *Service) Cancel(ctx context.Context, id string) (*booking.CancelResult, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.Cancel", trace.WithAttributes(
		attribute.String("booking_id", id),
	))
	defer span.End()

	b, err := s.get(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	elapsed := s.elapsed(b)

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, fail(span, reject(ErrBookingNotFound, MsgBookingNotFound))
		}
		return nil, fail(span, fmt.Errorf("deleting booking: %w", err))
	}
	if !isSimulated(b.Taxi) {
		s.release(ctx, b.Taxi)
	}

	seconds := int(elapsed.Seconds())
	result := &booking.CancelResult{Status: "cancelled"}
	if elapsed <= FreeCancelWindow {
		result.Message = fmt.Sprintf("Booking %s canceled within %d seconds. No fee.", id, seconds)
	} else {
		result.FeeApplied = true
		result.CancellationFee = CancellationFee(*b, elapsed)
		result.Message = fmt.Sprintf("Booking canceled after %d seconds.", seconds)
	}

	span.SetAttributes(attribute.Float64("cancellation_fee", result.CancellationFee))
	s.logger.Info().
		Str("booking_id", id).
		Str("taxi_id", b.Taxi).
		Int("elapsed_s", seconds).
		Float64("cancellation_fee", result.CancellationFee).
		Msg("booking cancelled")

	e := events.NewEvent(eventSource, events.BookingCancelled, id)
	e.TaxiID = b.Taxi
	e.CancellationFee = result.CancellationFee
	e.Message = result.Message
	s.publish(ctx, e)

	return result, nil
}

// ListTaxis returns the managed fleet followed by freshly scattered
// simulated taxis.
func (s *Service) ListTaxis(ctx context.Context) ([]fleet.Taxi, error) {
	managed, err := s.taxis.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing taxis: %w", err)
	}
	if s.simulator == nil {
		return managed, nil
	}
	return append(managed, s.simulator.Taxis()...), nil
}

// ResetTaxis makes every managed taxi available.
func (s *Service) ResetTaxis(ctx context.Context) error {
	if err := s.taxis.Reset(ctx); err != nil {
		return fmt.Errorf("resetting taxis: %w", err)
	}
	s.logger.Info().Msg("fleet reset")
	s.publish(ctx, events.NewEvent(eventSource, events.FleetReset, ""))
	return nil
}

// Ready checks the taxi store and booking repository when they support it.
func (s *Service) Ready(ctx context.Context) error {
	for name, dep := range map[string]any{"taxis": s.taxis, "bookings": s.repo} {
		if p, ok := dep.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *Service) get(ctx context.Context, id string) (*booking.Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, reject(ErrBookingNotFound, MsgBookingNotFound)
		}
		return nil, fmt.Errorf("loading booking: %w", err)
	}
	return b, nil
}

func (s *Service) elapsed(b *booking.Booking) time.Duration {
	d := s.now().Sub(b.CreatedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Service) release(ctx context.Context, taxiID string) {
	if err := s.taxis.Release(ctx, taxiID); err != nil {
		s.logger.Error().Err(err).Str("taxi_id", taxiID).Msg("failed to release taxi")
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("failed to publish event")
	}
}

func isSimulated(taxiID string) bool {
	return fleet.Taxi{ID: taxiID}.Simulated()
}

func fail(span trace.Span, err error) error {
	var rejected *Error
	if errors.As(err, &rejected) {
		span.SetAttributes(attribute.String("rejected", rejected.Message))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
