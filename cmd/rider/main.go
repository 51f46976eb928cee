// Package main runs the rider: it polls the dispatch fleet, books a trip and
// simulates it while exposing metrics and the rider state over HTTP.
package main

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/booking"
	"github.com/taxiride/tripsim/internal/booking/dispatchapi"
	"github.com/taxiride/tripsim/internal/config"
	"github.com/taxiride/tripsim/internal/events"
	"github.com/taxiride/tripsim/internal/fleet"
	"github.com/taxiride/tripsim/internal/metrics"
	"github.com/taxiride/tripsim/internal/policy"
	"github.com/taxiride/tripsim/internal/provider/resilience"
	"github.com/taxiride/tripsim/internal/telemetry"
	"github.com/taxiride/tripsim/internal/trip"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "tripsim-rider"

func main() {
	cfg, err := config.LoadRider()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("invalid configuration")
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Str("dispatch_url", cfg.DispatchURL).
		Str("strategy", cfg.Strategy).
		Msg("starting rider")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
		SampleRatio:    cfg.TraceSampleRatio,
		Logger:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	collector := metrics.NewCollector(cfg.TickInterval, cfg.FleetPollInterval)

	registry := resilience.NewRegistry()
	client := dispatchapi.NewClient(dispatchapi.ClientConfig{
		BaseURL:  cfg.DispatchURL,
		Timeout:  cfg.DispatchTimeout,
		Registry: registry,
		Logger:   log,
	})

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.DispatchTimeout)
	if err := client.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("dispatch service not reachable yet")
	}
	cancelPing()

	publisher, err := events.New(ctx, cfg.Events, log, collector)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publishers")
	}
	defer publisher.Close()

	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	}
	strategy, err := trip.NewStrategy(cfg.Strategy, rng)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid simulation strategy")
	}

	poller := fleet.NewPoller(fleet.PollerConfig{
		Source:   client,
		Interval: cfg.FleetPollInterval,
		Logger:   log,
		Observer: collector,
	})
	go poller.Run(ctx)

	svc := booking.NewService(booking.ServiceConfig{
		Remote: client,
		Policy: policy.New(client, log),
		Clock: trip.NewClock(trip.ClockConfig{
			Strategy: strategy,
			Interval: cfg.TickInterval,
			Logger:   log,
			Observer: collector,
		}),
		Fleet:     poller,
		Publisher: publisher,
		Observer:  collector,
		Logger:    log,
	})
	defer svc.Close()

	unsubscribe := svc.Subscribe(phaseLogger(log))
	defer unsubscribe()

	srv := collector.Serve(cfg.MetricsAddr, log, func(mux *http.ServeMux) {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"OK"}`))
		})
		mux.HandleFunc("/state", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(svc.Snapshot())
		})
		mux.HandleFunc("/fleet", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(svc.VisibleTaxis())
		})
	})

	if cfg.Pickup != "" {
		s := script{
			pickup:      cfg.Pickup,
			drop:        cfg.Drop,
			cancelAfter: cfg.CancelAfter,
			rebookAfter: cfg.RebookAfter,
			logger:      log,
			wait:        sleep,
		}
		go func() {
			if err := s.run(ctx, svc); err != nil {
				log.Error().Err(err).Msg("scripted ride failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down rider")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server forced to shutdown")
	}
}

// phaseLogger logs trip phase changes and status messages.
func phaseLogger(log zerolog.Logger) func(booking.State) {
	last := trip.PhaseIdle
	var lastMsg string
	return func(s booking.State) {
		if s.Phase != last {
			log.Info().
				Str("from", string(last)).
				Str("to", string(s.Phase)).
				Str("taxi", s.AssignedTaxiID).
				Msg("trip phase changed")
			last = s.Phase
		}
		if s.StatusMessage != "" && s.StatusMessage != lastMsg {
			log.Debug().Str("status", s.StatusMessage).Msg("trip status")
			lastMsg = s.StatusMessage
		}
	}
}
