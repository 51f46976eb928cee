package trip

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxiride/tripsim/internal/geo"
	"github.com/taxiride/tripsim/pkg/polyline"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testPlan() Plan {
	return Plan{
		BookingID:       "b-1",
		TaxiID:          "T1",
		TaxiStart:       geo.Coordinate{Lat: 28.6589, Lng: 77.2090},
		Pickup:          geo.Coordinate{Lat: 28.6139, Lng: 77.2090},
		Drop:            geo.Coordinate{Lat: 28.5562, Lng: 77.1000},
		DropAddress:     "Indira Gandhi International Airport",
		ApproachKm:      5,
		ApproachMinutes: 10,
		TripMinutes:     12,
		Fare:            250.5,
	}
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "Taxi (T1) is on the way! (10 mins, 5.0 km)", approachMessage("T1", 10, 5))
	assert.Equal(t, "Taxi (T1) is on the way! (1 mins, 0.1 km)", approachMessage("T1", 0.2, 0.08))
	assert.Equal(t, "User boarding (13 seconds until departure)", boardingMessage(13))
	assert.Equal(t, "En route to Connaught Place, New... ETA: 10 mins.", enRouteMessage("Connaught Place, New Delhi, India", 9.2))
	assert.Equal(t, "En route to Saket... ETA: 3 mins.", enRouteMessage("Saket", 3))
	assert.Equal(t, "Trip complete! Total Fare: ₹250.5", completeMessage(250.5))
	assert.Equal(t, "Trip complete! Total Fare: ₹98", completeMessage(98))
}

func TestInterpolationStrategy_Begin(t *testing.T) {
	s := NewInterpolationStrategy(rand.New(rand.NewPCG(1, 1)))
	plan := testPlan()

	st := s.Begin(plan, t0)
	assert.Equal(t, PhaseToPickup, st.Phase)
	assert.Equal(t, plan.TaxiStart, st.Position)
	assert.Equal(t, t0, st.PhaseStartedAt)
	assert.Equal(t, 5.0, st.RemainingKm)
	assert.Equal(t, "Taxi (T1) is on the way! (10 mins, 5.0 km)", st.StatusMessage)
}

func TestInterpolationStrategy_ApproachMovesTowardsPickup(t *testing.T) {
	s := NewInterpolationStrategy(rand.New(rand.NewPCG(7, 7)))
	plan := testPlan()
	st := s.Begin(plan, t0)

	now := t0
	before := geo.DistanceKm(st.Position, plan.Pickup)
	for i := 0; i < 20; i++ {
		now = now.Add(DefaultTickInterval)
		next, action := s.Step(plan, st, now, DefaultTickInterval)
		require.Equal(t, ActionContinue, action)
		require.Equal(t, PhaseToPickup, next.Phase)

		after := geo.DistanceKm(next.Position, plan.Pickup)
		assert.LessOrEqual(t, after, before+1e-9)
		// Never more than the maximum speed allows in one tick.
		assert.LessOrEqual(t, before-after, MaxApproachSpeedKmh*DefaultTickInterval.Hours()+1e-9)
		assert.LessOrEqual(t, next.RemainingKm, st.RemainingKm)
		before = after
		st = next
	}
}

func TestInterpolationStrategy_ArrivalSnapsToPickup(t *testing.T) {
	s := NewInterpolationStrategy(rand.New(rand.NewPCG(1, 1)))
	plan := testPlan()
	st := s.Begin(plan, t0)
	st.RemainingKm = 0

	now := t0.Add(DefaultTickInterval)
	next, action := s.Step(plan, st, now, DefaultTickInterval)
	assert.Equal(t, ActionContinue, action)
	assert.Equal(t, PhaseAtPickup, next.Phase)
	assert.Equal(t, plan.Pickup, next.Position)
	assert.Equal(t, now, next.PhaseStartedAt)
	assert.Equal(t, "User boarding (15 seconds until departure)", next.StatusMessage)
}

func TestBoarding(t *testing.T) {
	plan := testPlan()
	st := State{Phase: PhaseAtPickup, Position: plan.Pickup, PhaseStartedAt: t0}

	next := board(plan, st, t0.Add(2*time.Second))
	assert.Equal(t, PhaseAtPickup, next.Phase)
	assert.Equal(t, "User boarding (13 seconds until departure)", next.StatusMessage)

	next = board(plan, st, t0.Add(2500*time.Millisecond))
	assert.Equal(t, "User boarding (13 seconds until departure)", next.StatusMessage)

	next = board(plan, st, t0.Add(14*time.Second))
	assert.Equal(t, PhaseAtPickup, next.Phase)

	departure := t0.Add(BoardingDuration)
	next = board(plan, st, departure)
	assert.Equal(t, PhaseToDrop, next.Phase)
	assert.Equal(t, departure, next.PhaseStartedAt)
	assert.Equal(t, plan.Pickup, next.Position)
	assert.Equal(t, "En route to Indira Gandhi Intern... ETA: 12 mins.", next.StatusMessage)
}

func TestRide(t *testing.T) {
	plan := testPlan()
	st := State{Phase: PhaseToDrop, Position: plan.Pickup, PhaseStartedAt: t0}

	half := t0.Add(6 * time.Minute)
	next, action := ride(plan, st, half)
	assert.Equal(t, ActionContinue, action)
	assert.InDelta(t, 0.5, next.Progress, 1e-9)
	assert.Equal(t, geo.Interpolate(plan.Pickup, plan.Drop, 0.5), next.Position)
	assert.InDelta(t, 6.0, next.RemainingMinutes, 1e-9)
	assert.Equal(t, "En route to Indira Gandhi Intern... ETA: 6 mins.", next.StatusMessage)

	next, action = ride(plan, st, t0.Add(12*time.Minute))
	assert.Equal(t, ActionStop, action)
	assert.Equal(t, PhaseFinished, next.Phase)
	assert.Equal(t, plan.Drop, next.Position)
	assert.Equal(t, "Trip complete! Total Fare: ₹250.5", next.StatusMessage)

	// Progress is clamped even long after the ETA.
	next, _ = ride(plan, st, t0.Add(time.Hour))
	assert.Equal(t, plan.Drop, next.Position)

	plan.TripMinutes = 0
	next, action = ride(plan, st, t0)
	assert.Equal(t, ActionStop, action)
	assert.Equal(t, PhaseFinished, next.Phase)
}

func TestInterpolationStrategy_Finished(t *testing.T) {
	s := NewInterpolationStrategy(nil)
	st := State{Phase: PhaseFinished}
	next, action := s.Step(testPlan(), st, t0, DefaultTickInterval)
	assert.Equal(t, ActionStop, action)
	assert.Equal(t, st, next)
}

func TestWaypointStrategy_Approach(t *testing.T) {
	plan := testPlan()
	plan.ApproachMinutes = 1
	plan.ApproachRoute = geo.Path(plan.TaxiStart, plan.Pickup, 4)
	require.Len(t, plan.ApproachRoute, 5)

	w := NewWaypointStrategy()
	st := w.Begin(plan, t0)
	assert.Equal(t, plan.ApproachRoute[0], st.Position)

	// 60s over 5 waypoints: one waypoint every 12s.
	next, _ := w.Step(plan, st, t0.Add(10*time.Second), DefaultTickInterval)
	assert.Equal(t, 0, next.WaypointIndex)
	assert.Equal(t, plan.ApproachRoute[0], next.Position)

	next, _ = w.Step(plan, st, t0.Add(12*time.Second), DefaultTickInterval)
	assert.Equal(t, 1, next.WaypointIndex)
	assert.Equal(t, plan.ApproachRoute[1], next.Position)
	assert.InDelta(t, 4.0, next.RemainingKm, 1e-9)

	next, _ = w.Step(plan, st, t0.Add(47*time.Second), DefaultTickInterval)
	assert.Equal(t, PhaseToPickup, next.Phase)
	assert.Equal(t, 3, next.WaypointIndex)

	next, _ = w.Step(plan, st, t0.Add(48*time.Second), DefaultTickInterval)
	assert.Equal(t, PhaseAtPickup, next.Phase)
	assert.Equal(t, plan.Pickup, next.Position)
}

func TestWaypointStrategy_FallsBackToStraightRoute(t *testing.T) {
	plan := testPlan()
	plan.TripMinutes = 1

	w := NewWaypointStrategy()
	st := State{Phase: PhaseToDrop, Position: plan.Pickup, PhaseStartedAt: t0}

	next, action := w.Step(plan, st, t0.Add(20*time.Second), DefaultTickInterval)
	assert.Equal(t, ActionContinue, action)
	assert.Equal(t, plan.Pickup, next.Position)

	next, action = w.Step(plan, st, t0.Add(30*time.Second), DefaultTickInterval)
	assert.Equal(t, ActionStop, action)
	assert.Equal(t, PhaseFinished, next.Phase)
	assert.Equal(t, plan.Drop, next.Position)
}

func TestDecodeRoute(t *testing.T) {
	encoded := polyline.Encode([]polyline.Coordinate{{Lat: 28.61, Lng: 77.2}, {Lat: 28.62, Lng: 77.21}})

	route := DecodeRoute(encoded)
	require.Len(t, route, 2)
	assert.InDelta(t, 28.62, route[1].Lat, 1e-9)

	assert.Nil(t, DecodeRoute(""))
	assert.Nil(t, DecodeRoute("_p~iF~ps|"))
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("", nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyInterpolate, s.Name())

	s, err = NewStrategy(StrategyWaypoints, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyWaypoints, s.Name())

	_, err = NewStrategy("teleport", nil)
	assert.Error(t, err)
}
