package trip

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
	at      []time.Time
	sched   *ManualScheduler
}

func (r *recorder) sink(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	r.at = append(r.at, r.sched.Now())
}

func (r *recorder) transitions() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()

	var phases []Phase
	for _, u := range r.updates {
		if u.State.Phase != u.Previous {
			phases = append(phases, u.State.Phase)
		}
	}
	return phases
}

type countingObserver struct {
	mu          sync.Mutex
	ticks       int
	transitions []string
}

func (o *countingObserver) ObserveTick(_ string, _ Phase, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks++
}

func (o *countingObserver) ObserveTransition(from, to Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, string(from)+">"+string(to))
}

func newTestClock(strategy Strategy, observer TickObserver) (*Clock, *ManualScheduler) {
	sched := NewManualScheduler(t0)
	clock := NewClock(ClockConfig{
		Scheduler: sched,
		Strategy:  strategy,
		Logger:    zerolog.Nop(),
		Observer:  observer,
	})
	return clock, sched
}

func TestClock_FullLifecycle(t *testing.T) {
	observer := &countingObserver{}
	clock, sched := newTestClock(NewInterpolationStrategy(rand.New(rand.NewPCG(42, 42))), observer)
	rec := &recorder{sched: sched}
	plan := testPlan()

	gen, initial := clock.Start(plan, rec.sink)
	assert.Equal(t, PhaseToPickup, initial.Phase)
	assert.Equal(t, plan.TaxiStart, initial.Position)
	assert.True(t, clock.Running())

	sched.Advance(4 * time.Hour)

	assert.Equal(t, []Phase{PhaseAtPickup, PhaseToDrop, PhaseFinished}, rec.transitions())
	assert.False(t, clock.Running())
	assert.Zero(t, sched.Pending())

	var arrivedAt, departedAt time.Time
	for i, u := range rec.updates {
		assert.Equal(t, gen, u.Generation)
		if u.Previous == PhaseToPickup && u.State.Phase == PhaseAtPickup {
			arrivedAt = rec.at[i]
			assert.Equal(t, plan.Pickup, u.State.Position, "arrival snaps exactly to pickup")
		}
		if u.Previous == PhaseAtPickup && u.State.Phase == PhaseToDrop {
			departedAt = rec.at[i]
		}
	}
	require.False(t, arrivedAt.IsZero())
	require.False(t, departedAt.IsZero())
	assert.GreaterOrEqual(t, departedAt.Sub(arrivedAt), BoardingDuration)
	assert.Less(t, departedAt.Sub(arrivedAt), BoardingDuration+DefaultTickInterval)

	last := rec.updates[len(rec.updates)-1]
	assert.True(t, last.Done)
	assert.Equal(t, PhaseFinished, last.State.Phase)
	assert.Equal(t, plan.Drop, last.State.Position)
	assert.Equal(t, "Trip complete! Total Fare: ₹250.5", last.State.StatusMessage)
	assert.Equal(t, len(rec.updates), last.State.Ticks)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, len(rec.updates), observer.ticks)
	assert.Equal(t, []string{"idle>to_pickup", "to_pickup>at_pickup", "at_pickup>to_drop", "to_drop>finished"}, observer.transitions)
}

func TestClock_BoardingAdvancesWithoutInput(t *testing.T) {
	clock, sched := newTestClock(NewInterpolationStrategy(rand.New(rand.NewPCG(1, 2))), nil)
	rec := &recorder{sched: sched}
	plan := testPlan()
	plan.TaxiStart = plan.Pickup
	plan.ApproachKm = 0

	clock.Start(plan, rec.sink)

	sched.Advance(DefaultTickInterval)
	assert.Equal(t, PhaseAtPickup, clock.State().Phase)

	sched.Advance(14 * time.Second)
	assert.Equal(t, PhaseAtPickup, clock.State().Phase)

	sched.Advance(2 * time.Second)
	assert.Equal(t, PhaseToDrop, clock.State().Phase)
}

func TestClock_SameSeedSameTrajectory(t *testing.T) {
	run := func() []State {
		clock, sched := newTestClock(NewInterpolationStrategy(rand.New(rand.NewPCG(9, 9))), nil)
		rec := &recorder{sched: sched}
		clock.Start(testPlan(), rec.sink)
		sched.Advance(5 * time.Minute)

		states := make([]State, len(rec.updates))
		for i, u := range rec.updates {
			states[i] = u.State
		}
		return states
	}

	first := run()
	second := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestClock_StopDiscardsPendingTicks(t *testing.T) {
	clock, sched := newTestClock(NewInterpolationStrategy(nil), nil)
	rec := &recorder{sched: sched}

	clock.Start(testPlan(), rec.sink)
	sched.Advance(3 * DefaultTickInterval)
	require.Len(t, rec.updates, 3)

	clock.Stop()
	assert.False(t, clock.Running())
	assert.Zero(t, sched.Pending())

	sched.Advance(time.Hour)
	assert.Len(t, rec.updates, 3)
}

func TestClock_RestartCancelsPreviousChain(t *testing.T) {
	clock, sched := newTestClock(NewInterpolationStrategy(nil), nil)
	first := &recorder{sched: sched}
	second := &recorder{sched: sched}

	gen1, _ := clock.Start(testPlan(), first.sink)
	sched.Advance(DefaultTickInterval)

	plan := testPlan()
	plan.BookingID = "b-2"
	gen2, _ := clock.Start(plan, second.sink)
	assert.NotEqual(t, gen1, gen2)
	assert.Equal(t, 1, sched.Pending())

	sched.Advance(10 * DefaultTickInterval)
	assert.Len(t, first.updates, 1)
	assert.Len(t, second.updates, 10)
	for _, u := range second.updates {
		assert.Equal(t, gen2, u.Generation)
	}
}

func TestClock_StaleCallbackIsIgnored(t *testing.T) {
	clock, sched := newTestClock(NewInterpolationStrategy(nil), nil)
	rec := &recorder{sched: sched}

	gen, _ := clock.Start(testPlan(), rec.sink)
	clock.Stop()

	// A callback that was already running when Stop was called.
	clock.tick(gen)
	assert.Empty(t, rec.updates)
	assert.Equal(t, 0, clock.State().Ticks)
}

type skippingStrategy struct{ WaypointStrategy }

func (skippingStrategy) Step(_ Plan, s State, _ time.Time, _ time.Duration) (State, Action) {
	s.Phase = PhaseToDrop
	return s, ActionContinue
}

func TestClock_IllegalTransitionStopsChain(t *testing.T) {
	clock, sched := newTestClock(skippingStrategy{}, nil)
	rec := &recorder{sched: sched}

	clock.Start(testPlan(), rec.sink)
	sched.Advance(time.Minute)

	assert.Empty(t, rec.updates)
	assert.False(t, clock.Running())
	assert.Equal(t, PhaseToPickup, clock.State().Phase)
}

func TestClock_WaypointLifecycle(t *testing.T) {
	clock, sched := newTestClock(NewWaypointStrategy(), nil)
	rec := &recorder{sched: sched}
	plan := testPlan()
	plan.ApproachMinutes = 1
	plan.TripMinutes = 1

	clock.Start(plan, rec.sink)
	sched.Advance(10 * time.Minute)

	assert.Equal(t, []Phase{PhaseAtPickup, PhaseToDrop, PhaseFinished}, rec.transitions())
	last := rec.updates[len(rec.updates)-1]
	assert.Equal(t, plan.Drop, last.State.Position)
	assert.True(t, last.Done)
}
