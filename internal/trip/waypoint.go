package trip

import (
	"time"

	"github.com/taxiride/tripsim/internal/geo"
)

// WaypointStrategy steps through precomputed route waypoints at a fixed
// cadence of phase ETA divided by waypoint count. Without a usable route it
// falls back to the straight two-point route.
type WaypointStrategy struct{}

// NewWaypointStrategy creates the strategy.
func NewWaypointStrategy() *WaypointStrategy {
	return &WaypointStrategy{}
}

// Name returns "waypoints".
func (WaypointStrategy) Name() string {
	return StrategyWaypoints
}

// Begin places the taxi on the first approach waypoint.
func (WaypointStrategy) Begin(plan Plan, now time.Time) State {
	route := routeOrStraight(plan.ApproachRoute, plan.TaxiStart, plan.Pickup)
	return State{
		Phase:            PhaseToPickup,
		Position:         route[0],
		PhaseStartedAt:   now,
		RemainingKm:      plan.ApproachKm,
		RemainingMinutes: plan.ApproachMinutes,
		StatusMessage:    approachMessage(plan.TaxiID, plan.ApproachMinutes, plan.ApproachKm),
	}
}

// Step advances one tick.
func (w WaypointStrategy) Step(plan Plan, st State, now time.Time, _ time.Duration) (State, Action) {
	switch st.Phase {
	case PhaseToPickup:
		route := routeOrStraight(plan.ApproachRoute, plan.TaxiStart, plan.Pickup)
		index, arrived := waypointIndex(len(route), plan.ApproachMinutes, phaseElapsed(st, now))
		if arrived {
			return arrive(plan, st, now), ActionContinue
		}

		progress := float64(index) / float64(len(route))
		st.Position = route[index]
		st.WaypointIndex = index
		st.Progress = progress
		st.RemainingKm = plan.ApproachKm * (1 - progress)
		st.RemainingMinutes = plan.ApproachMinutes * (1 - progress)
		st.StatusMessage = approachMessage(plan.TaxiID, st.RemainingMinutes, st.RemainingKm)
		return st, ActionContinue

	case PhaseAtPickup:
		return board(plan, st, now), ActionContinue

	case PhaseToDrop:
		route := routeOrStraight(plan.TripRoute, plan.Pickup, plan.Drop)
		index, arrived := waypointIndex(len(route), plan.TripMinutes, phaseElapsed(st, now))
		if arrived {
			return finish(plan, st), ActionStop
		}

		progress := float64(index) / float64(len(route))
		st.Position = route[index]
		st.WaypointIndex = index
		st.Progress = progress
		st.RemainingMinutes = plan.TripMinutes * (1 - progress)
		st.RemainingKm = geo.DistanceKm(st.Position, plan.Drop)
		st.StatusMessage = enRouteMessage(plan.DropAddress, st.RemainingMinutes)
		return st, ActionContinue

	default:
		return st, ActionStop
	}
}

// waypointIndex maps elapsed phase time onto a route of n points. The phase
// is over once the index reaches the last waypoint.
func waypointIndex(n int, etaMinutes float64, elapsed time.Duration) (int, bool) {
	if n < 2 || etaMinutes <= 0 {
		return n - 1, true
	}
	interval := etaMinutes * 60 / float64(n)
	index := int(elapsed.Seconds() / interval)
	if index >= n-1 {
		return n - 1, true
	}
	return index, false
}

func routeOrStraight(route []geo.Coordinate, from, to geo.Coordinate) []geo.Coordinate {
	if len(route) >= 2 {
		return route
	}
	return []geo.Coordinate{from, to}
}
