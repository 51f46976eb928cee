package trip

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/taxiride/tripsim/internal/geo"
)

// MaxApproachSpeedKmh bounds the random speed drawn for each approach tick.
const MaxApproachSpeedKmh = 30.0

// InterpolationStrategy moves the taxi towards pickup at a random speed each
// tick and along the straight pickup-drop line by elapsed time.
type InterpolationStrategy struct {
	rng *rand.Rand
}

// NewInterpolationStrategy creates the strategy. The random source is only
// used from the clock's tick, which is serialized, so it needs no locking.
func NewInterpolationStrategy(rng *rand.Rand) *InterpolationStrategy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &InterpolationStrategy{rng: rng}
}

// Name returns "interpolate".
func (s *InterpolationStrategy) Name() string {
	return StrategyInterpolate
}

// Begin places the taxi at its start position.
func (s *InterpolationStrategy) Begin(plan Plan, now time.Time) State {
	return State{
		Phase:            PhaseToPickup,
		Position:         plan.TaxiStart,
		PhaseStartedAt:   now,
		RemainingKm:      plan.ApproachKm,
		RemainingMinutes: plan.ApproachMinutes,
		StatusMessage:    approachMessage(plan.TaxiID, plan.ApproachMinutes, plan.ApproachKm),
	}
}

// Step advances one tick.
func (s *InterpolationStrategy) Step(plan Plan, st State, now time.Time, tick time.Duration) (State, Action) {
	switch st.Phase {
	case PhaseToPickup:
		return s.approach(plan, st, now, tick), ActionContinue
	case PhaseAtPickup:
		return board(plan, st, now), ActionContinue
	case PhaseToDrop:
		return ride(plan, st, now)
	default:
		return st, ActionStop
	}
}

func (s *InterpolationStrategy) approach(plan Plan, st State, now time.Time, tick time.Duration) State {
	speed := s.rng.Float64() * MaxApproachSpeedKmh
	covered := speed * tick.Hours()
	remaining := geo.DistanceKm(st.Position, plan.Pickup)

	if covered >= remaining || st.RemainingKm <= 0 {
		return arrive(plan, st, now)
	}

	st.Position = geo.Interpolate(st.Position, plan.Pickup, covered/remaining)
	st.RemainingKm = math.Max(0, st.RemainingKm-covered)
	if speed > 0 {
		st.RemainingMinutes = st.RemainingKm / speed * 60
	}
	if plan.ApproachKm > 0 {
		st.Progress = 1 - st.RemainingKm/plan.ApproachKm
	}
	st.StatusMessage = approachMessage(plan.TaxiID, st.RemainingMinutes, st.RemainingKm)
	return st
}

// ride interpolates along the straight pickup-drop line by elapsed time.
func ride(plan Plan, st State, now time.Time) (State, Action) {
	progress := 1.0
	if total := plan.TripMinutes * 60; total > 0 {
		progress = math.Min(1, phaseElapsed(st, now).Seconds()/total)
	}

	if progress >= 1 {
		return finish(plan, st), ActionStop
	}

	st.Position = geo.Interpolate(plan.Pickup, plan.Drop, progress)
	st.Progress = progress
	st.RemainingMinutes = plan.TripMinutes * (1 - progress)
	st.RemainingKm = geo.DistanceKm(st.Position, plan.Drop)
	st.StatusMessage = enRouteMessage(plan.DropAddress, st.RemainingMinutes)
	return st, ActionContinue
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string, rng *rand.Rand) (Strategy, error) {
	switch name {
	case "", StrategyInterpolate:
		return NewInterpolationStrategy(rng), nil
	case StrategyWaypoints:
		return NewWaypointStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown simulation strategy %q", name)
	}
}
