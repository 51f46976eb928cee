package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxiride/tripsim/internal/booking"
	"github.com/taxiride/tripsim/internal/events"
	"github.com/taxiride/tripsim/internal/trip"
)

func TestCollector_TripLifecycle(t *testing.T) {
	c := NewCollector(2*time.Second, 10*time.Second)

	c.ObserveTransition(trip.PhaseIdle, trip.PhaseToPickup)
	c.ObserveTick(trip.StrategyInterpolate, trip.PhaseToPickup, time.Millisecond)
	c.ObserveTick(trip.StrategyInterpolate, trip.PhaseToPickup, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ActiveTrips))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Ticks.WithLabelValues("interpolate", "to_pickup")))

	c.ObserveTransition(trip.PhaseToDrop, trip.PhaseFinished)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ActiveTrips))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Transitions.WithLabelValues("to_drop", "finished")))

	c.ObserveTransition(trip.PhaseIdle, trip.PhaseToPickup)
	c.ObserveOperation(booking.OpCancelBooking, booking.OutcomeSuccess, 20*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ActiveTrips))

	c.ObserveOperation(booking.OpCancelBooking, booking.OutcomeRejected, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("cancel_booking", "rejected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ActiveTrips))
}

func TestCollector_FleetAndEvents(t *testing.T) {
	c := NewCollector(2*time.Second, 10*time.Second)

	c.ObserveFleetRefresh(true, 30*time.Millisecond, 14, 12)
	c.ObserveFleetRefresh(false, time.Second, 0, 0)
	assert.Equal(t, 14.0, testutil.ToFloat64(c.FleetTaxis))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.FleetAvailable))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FleetRefreshes.WithLabelValues("failure")))

	c.ObservePublish("nats", events.TripPosition, time.Millisecond, nil)
	c.ObservePublish("kafka", events.TripPosition, time.Millisecond, errors.New("broker down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Published.WithLabelValues("nats", "trip.position")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PublishErrors.WithLabelValues("kafka")))

	c.ObserveFeeLookup(true)
	c.ObserveRebookCancelFailure()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FeeLookups.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RebookCancelFails))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(2*time.Second, 10*time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tripsim_tick_interval_seconds 2")
	assert.Contains(t, string(body), "tripsim_fleet_poll_interval_seconds 10")
}
