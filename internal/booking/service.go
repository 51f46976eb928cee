package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/taxiride/tripsim/internal/events"
	"github.com/taxiride/tripsim/internal/fleet"
	"github.com/taxiride/tripsim/internal/geo"
	"github.com/taxiride/tripsim/internal/policy"
	"github.com/taxiride/tripsim/internal/trip"
)

const (
	tracerName  = "github.com/taxiride/tripsim/internal/booking"
	eventSource = "rider"
)

// Operation names reported to the Observer.
const (
	OpGetQuote       = "get_quote"
	OpConfirmBooking = "confirm_booking"
	OpCancelBooking  = "cancel_booking"
	OpInitiateRebook = "initiate_rebook"
	OpConfirmRebook  = "confirm_rebook"
)

// Operation outcomes reported to the Observer.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// FleetView is the read side of the fleet poller.
type FleetView interface {
	Snapshot() fleet.Snapshot
	Trigger()
}

// Observer receives operation metrics.
type Observer interface {
	ObserveOperation(op, outcome string, duration time.Duration)
	ObserveFeeLookup(success bool)
	ObserveRebookCancelFailure()
}

// ServiceConfig holds configuration for creating a Service.
type ServiceConfig struct {
	Remote    Remote
	Policy    *policy.Policy
	Clock     *trip.Clock
	Fleet     FleetView
	Publisher events.Publisher
	Observer  Observer
	Logger    zerolog.Logger
	// Go runs background fee lookups. Default: a new goroutine per lookup.
	Go func(func())
}

// Service owns the rider's quote, booking and rebook state and keeps the
// trip simulation in step with it.
//
// All state changes happen under mu. Remote calls are made without it, and
// their results are applied only if the booking they were made for is still
// current. Lock order is Service then Clock; the clock never calls back into
// the service while holding its own lock.
type Service struct {
	remote    Remote
	policy    *policy.Policy
	clock     *trip.Clock
	fleet     FleetView
	publisher events.Publisher
	observer  Observer
	logger    zerolog.Logger
	tracer    trace.Tracer
	goFunc    func(func())

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	gen         uint64
	clockGen    uint64
	feeInFlight bool
	closed      bool
	subs        []subscription
	nextSubID   int

	notifyMu  sync.Mutex
	delivered uint64
}

type subscription struct {
	id int
	fn func(State)
}

// NewService creates a Service in the idle phase.
func NewService(cfg ServiceConfig) *Service {
	goFunc := cfg.Go
	if goFunc == nil {
		goFunc = func(f func()) { go f() }
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		remote:    cfg.Remote,
		policy:    cfg.Policy,
		clock:     cfg.Clock,
		fleet:     cfg.Fleet,
		publisher: publisher,
		observer:  cfg.Observer,
		logger:    cfg.Logger.With().Str("component", "booking_service").Logger(),
		tracer:    otel.Tracer(tracerName),
		goFunc:    goFunc,
		ctx:       ctx,
		cancel:    cancel,
		state:     State{Phase: trip.PhaseIdle},
	}
}

// Subscribe registers fn for state changes and returns a function that
// removes it. Notifications arrive in version order; fn must not call back
// into the Service synchronously.
func (s *Service) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// GetQuote asks for a fare estimate. On success the quote replaces any
// previous one and the map selection is cleared; on failure prior state is
// kept and the error is shown.
func (s *Service) GetQuote(ctx context.Context, pickup, drop string) (*Quote, error) {
	ctx, span := s.tracer.Start(ctx, "booking.GetQuote", trace.WithAttributes(
		attribute.String("pickup", pickup),
		attribute.String("drop", drop),
	))
	defer span.End()
	start := time.Now()

	if err := s.beginLoading(); err != nil {
		s.record(span, OpGetQuote, start, err)
		return nil, err
	}

	quote, err := s.remote.Estimate(ctx, pickup, drop)
	if err != nil {
		s.failLoading(err, MsgQuoteFailed)
		s.record(span, OpGetQuote, start, err)
		return nil, err
	}

	stored := *quote
	s.mu.Lock()
	s.state.Quote = &stored
	s.state.Selection = Selection{}
	s.state.Loading = false
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	e := events.NewEvent(eventSource, events.QuoteIssued, "")
	e.TaxiID = quote.Taxi
	e.Fare = quote.Fare
	s.publish(e)
	s.nudgeFleet()

	s.record(span, OpGetQuote, start, nil)
	out := *quote
	return &out, nil
}

// ConfirmBooking turns a quote into a booking and starts the simulation.
// It is refused without a remote call while another booking is active.
func (s *Service) ConfirmBooking(ctx context.Context, quote Quote) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.ConfirmBooking", trace.WithAttributes(
		attribute.String("taxi_id", quote.Taxi),
	))
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		s.record(span, OpConfirmBooking, start, err)
		return nil, err
	}
	if s.hasActiveBookingLocked() {
		s.mu.Unlock()
		s.record(span, OpConfirmBooking, start, ErrBookingActive)
		return nil, ErrBookingActive
	}
	s.state.Loading = true
	s.state.Error = ""
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	b, err := s.remote.Confirm(ctx, quote)
	if err != nil {
		s.failLoading(err, MsgConfirmFailed)
		s.record(span, OpConfirmBooking, start, err)
		return nil, err
	}

	s.mu.Lock()
	if s.closed || s.hasActiveBookingLocked() {
		// Lost a race with another confirmation.
		s.state.Loading = false
		s.touchLocked()
		s.mu.Unlock()
		s.notify()
		s.discard(b.ID)
		s.record(span, OpConfirmBooking, start, ErrBookingActive)
		return nil, ErrBookingActive
	}
	s.installBookingLocked(*b)
	s.state.Quote = nil
	s.state.LastCancel = nil
	s.state.Loading = false
	s.mu.Unlock()
	s.notify()

	span.SetAttributes(attribute.String("booking_id", b.ID))
	s.logger.Info().Str("booking_id", b.ID).Str("taxi_id", b.Taxi).Float64("fare", b.Fare).Msg("booking confirmed")

	e := events.NewEvent(eventSource, events.BookingConfirmed, b.ID)
	e.TaxiID = b.Taxi
	e.Fare = b.Fare
	s.publish(e)
	s.nudgeFleet()

	s.record(span, OpConfirmBooking, start, nil)
	out := *b
	return &out, nil
}

// CancelBooking cancels the active booking. It is a rejected no-op unless
// the taxi is still on its way to pickup. A transport failure leaves the
// booking intact.
func (s *Service) CancelBooking(ctx context.Context) (*CancelResult, error) {
	ctx, span := s.tracer.Start(ctx, "booking.CancelBooking")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	if err := s.guardCancellableLocked(ErrNotCancellable); err != nil {
		s.mu.Unlock()
		s.record(span, OpCancelBooking, start, err)
		return nil, err
	}
	b := *s.state.Booking
	gen := s.gen
	s.state.Loading = true
	s.state.Error = ""
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	span.SetAttributes(attribute.String("booking_id", b.ID))

	res, err := s.remote.Cancel(ctx, b.ID)
	if err != nil {
		s.failLoading(err, MsgCancelFailed)
		s.record(span, OpCancelBooking, start, err)
		return nil, err
	}

	result := *res
	s.mu.Lock()
	if s.gen == gen {
		s.clearBookingLocked()
		s.state.Quote = nil
	}
	s.state.LastCancel = &result
	s.state.Loading = false
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	s.logger.Info().
		Str("booking_id", b.ID).
		Bool("fee_applied", res.FeeApplied).
		Float64("cancellation_fee", res.CancellationFee).
		Msg(res.Message)

	e := events.NewEvent(eventSource, events.BookingCancelled, b.ID)
	e.TaxiID = b.Taxi
	e.CancellationFee = res.CancellationFee
	e.Message = res.Message
	s.publish(e)
	s.nudgeFleet()

	s.record(span, OpCancelBooking, start, nil)
	return &result, nil
}

// InitiateRebook quotes the active booking's route again and looks up the
// fee for cancelling the current booking, both at once. A failed fee lookup
// counts as no fee; a failed quote leaves no rebook quote.
func (s *Service) InitiateRebook(ctx context.Context) (*RebookQuote, error) {
	ctx, span := s.tracer.Start(ctx, "booking.InitiateRebook")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	if err := s.guardCancellableLocked(ErrNotRebookable); err != nil {
		s.mu.Unlock()
		s.record(span, OpInitiateRebook, start, err)
		return nil, err
	}
	b := *s.state.Booking
	gen := s.gen
	s.state.Quote = nil
	s.state.RebookQuote = nil
	s.state.Loading = true
	s.state.Error = ""
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	span.SetAttributes(attribute.String("booking_id", b.ID))

	var (
		quote *Quote
		fee   float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := s.remote.Estimate(gctx, b.Pickup, b.Drop)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	g.Go(func() error {
		fee = s.policy.RebookFee(gctx, b.ID)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.failLoading(err, MsgRebookQuoteFailed)
		s.record(span, OpInitiateRebook, start, err)
		return nil, err
	}

	rq := NewRebookQuote(*quote, fee)

	s.mu.Lock()
	if s.gen != gen || !s.state.Phase.AllowsCancellation() {
		// The booking moved on while we were asking.
		s.state.Loading = false
		s.touchLocked()
		s.mu.Unlock()
		s.notify()
		s.record(span, OpInitiateRebook, start, ErrNotRebookable)
		return nil, ErrNotRebookable
	}
	stored := rq
	s.state.RebookQuote = &stored
	s.state.Loading = false
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	s.record(span, OpInitiateRebook, start, nil)
	return &rq, nil
}

// ConfirmRebook confirms the rebook quote, cancels the old booking on a
// best-effort basis and swaps the new booking in. If confirmation fails the
// old booking is untouched.
//
// The old-booking cancel is attempted once and never blocks the swap: the
// new booking is already confirmed, and cancel is not idempotent on the
// server, so a retry after an ambiguous failure would only produce a
// not-found error. Failures are logged and counted.
func (s *Service) ConfirmRebook(ctx context.Context, rq RebookQuote) (*Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.ConfirmRebook")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	if err := s.guardCancellableLocked(ErrNotRebookable); err != nil {
		s.state.RebookQuote = nil
		s.touchLocked()
		s.mu.Unlock()
		s.notify()
		s.record(span, OpConfirmRebook, start, err)
		return nil, err
	}
	old := *s.state.Booking
	s.state.Loading = true
	s.state.Error = ""
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	span.SetAttributes(attribute.String("previous_booking_id", old.ID))

	nb, err := s.remote.Confirm(ctx, rq.Quote)
	if err != nil {
		s.mu.Lock()
		s.state.RebookQuote = nil
		s.state.Loading = false
		s.state.Error = DisplayMessage(err, MsgRebookConfirmFailed)
		s.touchLocked()
		s.mu.Unlock()
		s.notify()
		s.record(span, OpConfirmRebook, start, err)
		return nil, err
	}

	if _, cerr := s.remote.Cancel(ctx, old.ID); cerr != nil {
		s.logger.Warn().
			Err(cerr).
			Str("old_booking_id", old.ID).
			Str("new_booking_id", nb.ID).
			Msg("failed to cancel old booking during rebook")
		span.AddEvent("old booking cancel failed")
		if s.observer != nil {
			s.observer.ObserveRebookCancelFailure()
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.record(span, OpConfirmRebook, start, ErrClosed)
		return nil, ErrClosed
	}
	s.installBookingLocked(*nb)
	s.state.Loading = false
	s.mu.Unlock()
	s.notify()

	span.SetAttributes(attribute.String("booking_id", nb.ID))
	s.logger.Info().Str("booking_id", nb.ID).Str("old_booking_id", old.ID).Msg("booking rebooked")

	e := events.NewEvent(eventSource, events.BookingRebooked, nb.ID)
	e.PreviousID = old.ID
	e.TaxiID = nb.Taxi
	e.Fare = nb.Fare
	e.CancellationFee = rq.CancellationFee
	s.publish(e)
	s.nudgeFleet()

	s.record(span, OpConfirmRebook, start, nil)
	out := *nb
	return &out, nil
}

// CancelRequote drops the rebook quote without any remote call.
func (s *Service) CancelRequote() {
	s.mu.Lock()
	if s.state.RebookQuote == nil {
		s.mu.Unlock()
		return
	}
	s.state.RebookQuote = nil
	s.touchLocked()
	s.mu.Unlock()
	s.notify()
}

// SelectOnMap records a point picked on the map for the given end of the trip.
func (s *Service) SelectOnMap(mode SelectMode, c geo.Coordinate, address string) {
	s.mu.Lock()
	s.state.Selection.Mode = mode
	switch mode {
	case SelectPickup:
		s.state.Selection.Pickup = &c
		s.state.Selection.PickupAddress = address
	case SelectDrop:
		s.state.Selection.Drop = &c
		s.state.Selection.DropAddress = address
	}
	s.touchLocked()
	s.mu.Unlock()
	s.notify()
}

// Dismiss clears a finished booking and returns to idle.
func (s *Service) Dismiss() error {
	s.mu.Lock()
	if s.state.Booking == nil {
		s.mu.Unlock()
		return nil
	}
	if s.state.Phase != trip.PhaseFinished {
		s.mu.Unlock()
		return ErrBookingActive
	}
	s.clearBookingLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

// VisibleTaxis returns the fleet without the taxi assigned to the booking.
func (s *Service) VisibleTaxis() []fleet.Taxi {
	if s.fleet == nil {
		return nil
	}
	s.mu.Lock()
	assigned := s.state.AssignedTaxiID
	s.mu.Unlock()
	return s.fleet.Snapshot().Visible(assigned)
}

// Close stops the simulation and any background fee lookup.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopClockLocked()
	s.mu.Unlock()
	s.cancel()
}

func (s *Service) onTick(u trip.Update) {
	s.mu.Lock()
	if s.closed || s.state.Booking == nil || u.Generation != s.clockGen {
		s.mu.Unlock()
		return
	}

	previous := s.state.Phase
	s.applyTripLocked(u.State)
	changed := u.State.Phase != previous
	if changed {
		s.state.RebookQuote = nil
	}
	if u.Done {
		s.clockGen = 0
	}

	b := *s.state.Booking
	gen := s.gen
	lookup := false
	if u.State.Phase == trip.PhaseToPickup {
		fee, due := s.policy.Countdown(b.CreatedAt, s.clock.Now())
		if !due {
			s.state.Fee = fee
		} else {
			s.state.Fee.FreeSecondsRemaining = 0
			if !s.feeInFlight {
				s.feeInFlight = true
				lookup = true
			}
		}
	}
	s.touchLocked()
	s.mu.Unlock()
	s.notify()

	pos := u.State.Position
	e := events.NewEvent(eventSource, events.TripPosition, b.ID)
	e.TaxiID = b.Taxi
	e.Phase = string(u.State.Phase)
	e.Position = &pos
	s.publish(e)

	if changed {
		e := events.NewEvent(eventSource, events.TripPhaseChanged, b.ID)
		e.TaxiID = b.Taxi
		e.Phase = string(u.State.Phase)
		e.PreviousPhase = string(previous)
		e.Message = u.State.StatusMessage
		if u.State.Phase == trip.PhaseFinished {
			e.Fare = b.Fare
		}
		s.publish(e)
	}

	if lookup {
		s.goFunc(func() { s.refreshFee(gen, b.ID) })
	}
}

// refreshFee runs one best-effort fee lookup for the booking of generation gen.
func (s *Service) refreshFee(gen uint64, bookingID string) {
	s.mu.Lock()
	previous := s.state.Fee.CurrentFee
	s.mu.Unlock()

	fee, err := s.policy.Fetch(s.ctx, bookingID, previous)
	if s.observer != nil {
		s.observer.ObserveFeeLookup(err == nil)
	}

	s.mu.Lock()
	s.feeInFlight = false
	changed := false
	if err == nil && s.gen == gen && s.state.Phase == trip.PhaseToPickup && s.state.Fee.CurrentFee != fee {
		s.state.Fee.CurrentFee = fee
		s.touchLocked()
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Service) installBookingLocked(b Booking) {
	s.stopClockLocked()
	s.gen++

	stored := b
	s.state.Booking = &stored
	s.state.RebookQuote = nil
	s.state.AssignedTaxiID = b.Taxi

	fee, _ := s.policy.Countdown(b.CreatedAt, s.clock.Now())
	s.state.Fee = fee

	clockGen, initial := s.clock.Start(b.Plan(), s.onTick)
	s.clockGen = clockGen
	s.applyTripLocked(initial)
	s.touchLocked()
}

func (s *Service) clearBookingLocked() {
	s.stopClockLocked()
	s.gen++

	s.state.Booking = nil
	s.state.RebookQuote = nil
	s.state.Phase = trip.PhaseIdle
	s.state.Position = nil
	s.state.Trip = trip.State{}
	s.state.StatusMessage = ""
	s.state.AssignedTaxiID = ""
	s.state.Fee = policy.FeeState{}
	s.touchLocked()
}

func (s *Service) stopClockLocked() {
	s.clock.Stop()
	s.clockGen = 0
}

func (s *Service) applyTripLocked(ts trip.State) {
	pos := ts.Position
	s.state.Trip = ts
	s.state.Phase = ts.Phase
	s.state.Position = &pos
	s.state.StatusMessage = ts.StatusMessage
}

func (s *Service) touchLocked() {
	s.state.Version++
}

func (s *Service) usableLocked() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Service) hasActiveBookingLocked() bool {
	return s.state.Booking != nil && s.state.Phase != trip.PhaseFinished
}

// guardCancellableLocked rejects the operation unless a booking exists and
// its phase still allows cancellation. The state is left untouched.
func (s *Service) guardCancellableLocked(phaseErr error) error {
	if err := s.usableLocked(); err != nil {
		return err
	}
	if s.state.Booking == nil {
		return ErrNoBooking
	}
	if !s.state.Phase.AllowsCancellation() {
		s.logger.Info().
			Str("booking_id", s.state.Booking.ID).
			Str("phase", string(s.state.Phase)).
			Msg("rejected: driver has already arrived or trip is in progress")
		return phaseErr
	}
	return nil
}

func (s *Service) beginLoading() error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state.Loading = true
	s.state.Error = ""
	s.touchLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Service) failLoading(err error, fallback string) {
	s.mu.Lock()
	s.state.Loading = false
	s.state.Error = DisplayMessage(err, fallback)
	s.touchLocked()
	s.mu.Unlock()
	s.notify()
}

// notify delivers the latest state to subscribers. Deliveries are serialized
// and a version is never delivered twice or out of order.
func (s *Service) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.state.Version <= s.delivered {
		s.mu.Unlock()
		return
	}
	snap := s.state.clone()
	s.delivered = snap.Version
	subs := make([]func(State), len(s.subs))
	for i, sub := range s.subs {
		subs[i] = sub.fn
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Service) publish(e events.Event) {
	if err := s.publisher.Publish(s.ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("failed to publish event")
	}
}

func (s *Service) nudgeFleet() {
	if s.fleet != nil {
		s.fleet.Trigger()
	}
}

// discard cancels a booking that was confirmed but cannot be used.
func (s *Service) discard(bookingID string) {
	if _, err := s.remote.Cancel(s.ctx, bookingID); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("failed to cancel surplus booking")
	}
}

func (s *Service) record(span trace.Span, op string, start time.Time, err error) {
	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrNotCancellable), errors.Is(err, ErrNotRebookable),
		errors.Is(err, ErrNoBooking), errors.Is(err, ErrBookingActive):
		outcome = OutcomeRejected
		span.SetAttributes(attribute.String("rejected", err.Error()))
	default:
		outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if s.observer != nil {
		s.observer.ObserveOperation(op, outcome, time.Since(start))
	}
}
