package trip

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTickInterval is the simulation period.
const DefaultTickInterval = 2 * time.Second

// Update is delivered to the sink after every tick.
type Update struct {
	// Generation identifies the Start call that produced this update.
	Generation uint64
	Previous   Phase
	State      State
	// Done is set on the last update of a chain.
	Done bool
}

// Sink receives tick updates. It is called without the clock's lock held.
type Sink func(Update)

// TickObserver receives tick timings and phase transitions.
type TickObserver interface {
	ObserveTick(strategy string, phase Phase, duration time.Duration)
	ObserveTransition(from, to Phase)
}

// ClockConfig holds configuration for the clock.
type ClockConfig struct {
	Scheduler Scheduler
	Strategy  Strategy
	Interval  time.Duration
	Logger    zerolog.Logger
	Observer  TickObserver
}

// Clock drives one booking's simulation with a recurring tick. Starting a new
// simulation stops the previous tick chain first, so at most one chain is live.
type Clock struct {
	scheduler Scheduler
	strategy  Strategy
	interval  time.Duration
	logger    zerolog.Logger
	observer  TickObserver

	mu      sync.Mutex
	gen     uint64
	timer   Timer
	machine *Machine
	plan    Plan
	state   State
	sink    Sink
}

// NewClock creates a stopped clock.
func NewClock(cfg ClockConfig) *Clock {
	if cfg.Scheduler == nil {
		cfg.Scheduler = SystemScheduler{}
	}
	if cfg.Strategy == nil {
		cfg.Strategy = NewInterpolationStrategy(nil)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}

	return &Clock{
		scheduler: cfg.Scheduler,
		strategy:  cfg.Strategy,
		interval:  cfg.Interval,
		logger:    cfg.Logger.With().Str("component", "trip_clock").Str("strategy", cfg.Strategy.Name()).Logger(),
		observer:  cfg.Observer,
		machine:   NewMachine(),
	}
}

// Now returns the scheduler's current time.
func (c *Clock) Now() time.Time {
	return c.scheduler.Now()
}

// Start begins simulating plan in to_pickup and schedules the first tick.
// It returns the generation of the new chain and the initial state.
func (c *Clock) Start(plan Plan, sink Sink) (uint64, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.machine.Reset()
	// idle -> to_pickup is always legal after a reset.
	_ = c.machine.Start()

	c.plan = plan
	c.sink = sink
	c.state = c.strategy.Begin(plan, c.scheduler.Now())

	gen := c.gen
	c.timer = c.scheduler.AfterFunc(c.interval, func() { c.tick(gen) })

	c.logger.Debug().
		Str("booking_id", plan.BookingID).
		Uint64("generation", gen).
		Msg("simulation started")

	if c.observer != nil {
		c.observer.ObserveTransition(PhaseIdle, PhaseToPickup)
	}
	return gen, c.state
}

// Stop cancels any pending tick. Callbacks already in flight discard themselves.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.machine.Reset()
	c.sink = nil
}

func (c *Clock) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// Running reports whether a tick is scheduled.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// State returns the latest simulated state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Clock) tick(gen uint64) {
	started := time.Now()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	now := c.scheduler.Now()
	previous := c.state
	next, action := c.strategy.Step(c.plan, previous, now, c.interval)
	next.Ticks = previous.Ticks + 1

	if next.Phase != previous.Phase {
		if err := c.machine.Advance(next.Phase); err != nil {
			c.timer = nil
			c.mu.Unlock()
			c.logger.Error().
				Err(err).
				Str("booking_id", c.plan.BookingID).
				Msg("strategy produced an illegal phase change, stopping simulation")
			return
		}
	}
	c.state = next

	done := action == ActionStop
	if done {
		c.timer = nil
	} else {
		c.timer = c.scheduler.AfterFunc(c.interval, func() { c.tick(gen) })
	}
	sink := c.sink
	bookingID := c.plan.BookingID
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveTick(c.strategy.Name(), next.Phase, time.Since(started))
		if next.Phase != previous.Phase {
			c.observer.ObserveTransition(previous.Phase, next.Phase)
		}
	}

	if next.Phase != previous.Phase {
		c.logger.Info().
			Str("booking_id", bookingID).
			Str("from", string(previous.Phase)).
			Str("to", string(next.Phase)).
			Msg("phase changed")
	}

	if sink != nil {
		sink(Update{Generation: gen, Previous: previous.Phase, State: next, Done: done})
	}
}
