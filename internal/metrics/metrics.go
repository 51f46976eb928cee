// Package metrics exposes Prometheus metrics for the rider process.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/booking"
	"github.com/taxiride/tripsim/internal/events"
	"github.com/taxiride/tripsim/internal/fleet"
	"github.com/taxiride/tripsim/internal/trip"
)

// Collector owns a private registry and implements the observer interfaces
// of the trip clock, the booking service, the fleet poller and the event
// publishers.
type Collector struct {
	reg *prometheus.Registry

	Ticks        *prometheus.CounterVec // strategy, phase
	TickDuration prometheus.Histogram
	Transitions  *prometheus.CounterVec // from, to
	ActiveTrips  prometheus.Gauge

	Operations        *prometheus.CounterVec // op, outcome
	OperationDuration *prometheus.HistogramVec
	FeeLookups        *prometheus.CounterVec // result
	RebookCancelFails prometheus.Counter

	FleetRefreshes      *prometheus.CounterVec // result
	FleetRefreshSeconds prometheus.Histogram
	FleetTaxis          prometheus.Gauge
	FleetAvailable      prometheus.Gauge

	Published       *prometheus.CounterVec // backend, type
	PublishErrors   *prometheus.CounterVec // backend
	PublishDuration prometheus.Histogram

	TickInterval prometheus.Gauge // seconds
	PollInterval prometheus.Gauge // seconds
}

// NewCollector creates a collector and records the configured intervals.
func NewCollector(tickInterval, pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsim_ticks_total",
			Help: "Simulation ticks processed.",
		}, []string{"strategy", "phase"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripsim_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsim_phase_transitions_total",
			Help: "Trip phase transitions.",
		}, []string{"from", "to"}),
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripsim_active_trips",
			Help: "Trips between to_pickup and finished.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsim_booking_operations_total",
			Help: "Booking operations by outcome.",
		}, []string{"op", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripsim_booking_operation_duration_seconds",
			Help:    "Duration of booking operations including remote calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		FeeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsim_fee_lookups_total",
			Help: "Cancellation fee lookups by result.",
		}, []string{"result"}),
		RebookCancelFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripsim_rebook_old_cancel_failures_total",
			Help: "Rebooks whose old booking could not be cancelled.",
		}),
		FleetRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsim_fleet_refreshes_total",
			Help: "Fleet snapshot refreshes by result.",
		}, []string{"result"}),
		FleetRefreshSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripsim_fleet_refresh_duration_seconds",
			Help:    "Duration of fleet refreshes.",
			Buckets: prometheus.DefBuckets,
		}),
		FleetTaxis: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripsim_fleet_taxis",
			Help: "Taxis in the latest fleet snapshot.",
		}),
		FleetAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripsim_fleet_available_taxis",
			Help: "Available taxis in the latest fleet snapshot.",
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsim_events_published_total",
			Help: "Events published by backend and type.",
		}, []string{"backend", "type"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripsim_event_publish_errors_total",
			Help: "Event publish errors by backend.",
		}, []string{"backend"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripsim_event_publish_duration_seconds",
			Help:    "Duration to marshal and publish an event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripsim_tick_interval_seconds",
			Help: "Simulation tick interval in seconds.",
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripsim_fleet_poll_interval_seconds",
			Help: "Fleet poll interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.Ticks, c.TickDuration, c.Transitions, c.ActiveTrips,
		c.Operations, c.OperationDuration, c.FeeLookups, c.RebookCancelFails,
		c.FleetRefreshes, c.FleetRefreshSeconds, c.FleetTaxis, c.FleetAvailable,
		c.Published, c.PublishErrors, c.PublishDuration,
		c.TickInterval, c.PollInterval,
	)

	c.TickInterval.Set(tickInterval.Seconds())
	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

// ObserveTick implements trip.TickObserver.
func (c *Collector) ObserveTick(strategy string, phase trip.Phase, d time.Duration) {
	c.Ticks.WithLabelValues(strategy, string(phase)).Inc()
	c.TickDuration.Observe(d.Seconds())
}

// ObserveTransition implements trip.TickObserver.
func (c *Collector) ObserveTransition(from, to trip.Phase) {
	c.Transitions.WithLabelValues(string(from), string(to)).Inc()
	switch {
	case from == trip.PhaseIdle && to == trip.PhaseToPickup:
		c.ActiveTrips.Inc()
	case to == trip.PhaseFinished:
		c.ActiveTrips.Dec()
	}
}

// ObserveOperation implements booking.Observer. A successful cancel or
// rebook ends a trip that never reached finished.
func (c *Collector) ObserveOperation(op, outcome string, d time.Duration) {
	c.Operations.WithLabelValues(op, outcome).Inc()
	c.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
	if outcome == booking.OutcomeSuccess && (op == booking.OpCancelBooking || op == booking.OpConfirmRebook) {
		c.ActiveTrips.Dec()
	}
}

// ObserveFeeLookup implements booking.Observer.
func (c *Collector) ObserveFeeLookup(success bool) {
	c.FeeLookups.WithLabelValues(result(success)).Inc()
}

// ObserveRebookCancelFailure implements booking.Observer.
func (c *Collector) ObserveRebookCancelFailure() {
	c.RebookCancelFails.Inc()
}

// ObserveFleetRefresh implements fleet.Observer.
func (c *Collector) ObserveFleetRefresh(success bool, d time.Duration, total, available int) {
	c.FleetRefreshes.WithLabelValues(result(success)).Inc()
	c.FleetRefreshSeconds.Observe(d.Seconds())
	if success {
		c.FleetTaxis.Set(float64(total))
		c.FleetAvailable.Set(float64(available))
	}
}

// ObservePublish implements events.Metrics.
func (c *Collector) ObservePublish(backend string, typ events.Type, d time.Duration, err error) {
	c.PublishDuration.Observe(d.Seconds())
	if err != nil {
		c.PublishErrors.WithLabelValues(backend).Inc()
		return
	}
	c.Published.WithLabelValues(backend, string(typ)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler returns the /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics plus any extra routes.
func (c *Collector) Serve(addr string, logger zerolog.Logger, routes func(mux *http.ServeMux)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	if routes != nil {
		routes(mux)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}

var (
	_ trip.TickObserver = (*Collector)(nil)
	_ booking.Observer  = (*Collector)(nil)
	_ fleet.Observer    = (*Collector)(nil)
	_ events.Metrics    = (*Collector)(nil)
)
