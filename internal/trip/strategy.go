package trip

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/taxiride/tripsim/internal/geo"
	"github.com/taxiride/tripsim/pkg/polyline"
)

// BoardingDuration is how long the taxi waits at pickup before departing.
const BoardingDuration = 15 * time.Second

// Plan is everything the simulation needs to know about a confirmed booking.
type Plan struct {
	BookingID       string
	TaxiID          string
	TaxiStart       geo.Coordinate
	Pickup          geo.Coordinate
	Drop            geo.Coordinate
	DropAddress     string
	ApproachKm      float64
	ApproachMinutes float64
	TripMinutes     float64
	Fare            float64

	// Optional routes; used by WaypointStrategy.
	ApproachRoute []geo.Coordinate
	TripRoute     []geo.Coordinate
}

// DecodeRoute turns an encoded polyline into coordinates, returning nil for
// empty or malformed input.
func DecodeRoute(encoded string) []geo.Coordinate {
	points, err := polyline.DecodeStrict(encoded)
	if err != nil || len(points) == 0 {
		return nil
	}
	route := make([]geo.Coordinate, len(points))
	for i, p := range points {
		route[i] = geo.Coordinate{Lat: p.Lat, Lng: p.Lng}
	}
	return route
}

// State is the simulation's view of the trip after a tick.
type State struct {
	Phase            Phase          `json:"phase"`
	Position         geo.Coordinate `json:"position"`
	StatusMessage    string         `json:"status_message"`
	PhaseStartedAt   time.Time      `json:"phase_started_at"`
	RemainingKm      float64        `json:"remaining_km"`
	RemainingMinutes float64        `json:"remaining_minutes"`
	Progress         float64        `json:"progress"`
	WaypointIndex    int            `json:"waypoint_index"`
	Ticks            int            `json:"ticks"`
}

// Action tells the clock what to do after a tick.
type Action int

const (
	ActionContinue Action = iota
	ActionStop
)

// Strategy computes vehicle movement. Implementations are pure apart from
// their own random source: the same inputs yield the same outputs.
type Strategy interface {
	Name() string
	// Begin returns the to_pickup state for a freshly confirmed booking.
	Begin(plan Plan, now time.Time) State
	// Step advances the state by one tick.
	Step(plan Plan, s State, now time.Time, tick time.Duration) (State, Action)
}

// Strategy names accepted by NewStrategy.
const (
	StrategyInterpolate = "interpolate"
	StrategyWaypoints   = "waypoints"
)

// approachMessage formats the to_pickup status line.
func approachMessage(taxiID string, minutes, km float64) string {
	mins := math.Max(1, math.Ceil(minutes))
	return fmt.Sprintf("Taxi (%s) is on the way! (%d mins, %.1f km)", taxiID, int(mins), km)
}

func boardingMessage(seconds int) string {
	return fmt.Sprintf("User boarding (%d seconds until departure)", seconds)
}

func enRouteMessage(dropAddress string, minutes float64) string {
	return fmt.Sprintf("En route to %s... ETA: %d mins.", truncate(dropAddress, 20), int(math.Ceil(minutes)))
}

func completeMessage(fare float64) string {
	return "Trip complete! Total Fare: ₹" + strconv.FormatFloat(fare, 'f', -1, 64)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// arrive snaps the vehicle to pickup and starts boarding.
func arrive(plan Plan, s State, now time.Time) State {
	s.Phase = PhaseAtPickup
	s.Position = plan.Pickup
	s.PhaseStartedAt = now
	s.RemainingKm = 0
	s.RemainingMinutes = 0
	s.Progress = 1
	s.StatusMessage = boardingMessage(int(BoardingDuration.Seconds()))
	return s
}

// board is the at_pickup step shared by every strategy.
func board(plan Plan, s State, now time.Time) State {
	waited := now.Sub(s.PhaseStartedAt)
	if waited >= BoardingDuration {
		s.Phase = PhaseToDrop
		s.Position = plan.Pickup
		s.PhaseStartedAt = now
		s.Progress = 0
		s.WaypointIndex = 0
		s.RemainingKm = geo.DistanceKm(plan.Pickup, plan.Drop)
		s.RemainingMinutes = plan.TripMinutes
		s.StatusMessage = enRouteMessage(plan.DropAddress, plan.TripMinutes)
		return s
	}

	deficit := int(math.Ceil((BoardingDuration - waited).Seconds()))
	s.StatusMessage = boardingMessage(deficit)
	return s
}

// finish snaps the vehicle to drop and ends the trip.
func finish(plan Plan, s State) State {
	s.Phase = PhaseFinished
	s.Position = plan.Drop
	s.Progress = 1
	s.RemainingKm = 0
	s.RemainingMinutes = 0
	s.StatusMessage = completeMessage(plan.Fare)
	return s
}

// phaseElapsed returns time spent in the current phase, never negative.
func phaseElapsed(s State, now time.Time) time.Duration {
	elapsed := now.Sub(s.PhaseStartedAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
