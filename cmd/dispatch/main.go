// Package main provides the entrypoint for the trip dispatch service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/api"
	"github.com/taxiride/tripsim/internal/api/handler"
	"github.com/taxiride/tripsim/internal/api/middleware"
	"github.com/taxiride/tripsim/internal/config"
	"github.com/taxiride/tripsim/internal/database"
	"github.com/taxiride/tripsim/internal/dispatch"
	"github.com/taxiride/tripsim/internal/events"
	"github.com/taxiride/tripsim/internal/geocode"
	"github.com/taxiride/tripsim/internal/geocode/google"
	"github.com/taxiride/tripsim/internal/provider/resilience"
	"github.com/taxiride/tripsim/internal/telemetry"
	"github.com/taxiride/tripsim/internal/weather"
	"github.com/taxiride/tripsim/internal/weather/openweathermap"
	"github.com/taxiride/tripsim/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "tripsim-dispatch"

func main() {
	cfg, err := config.LoadDispatch()
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
		Str("env", cfg.Env).
		Msg("starting dispatch service")

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

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	var subsystems []handler.Subsystem

	// Taxi store
	var taxis dispatch.TaxiStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		store := dispatch.NewRedisTaxiStore(rdb, "tripsim")
		if err := store.Seed(ctx, dispatch.DefaultFleet()); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to seed taxi store")
		}
		taxis = store
		subsystems = append(subsystems, handler.Subsystem{Name: "redis", Pinger: store})
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis taxi store ready")
	} else {
		taxis = dispatch.NewMemoryTaxiStore(dispatch.DefaultFleet())
	}

	// Booking repository
	var repo dispatch.Repository
	switch cfg.BookingStore {
	case "postgres":
		dbConfig, err := database.ConfigFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("invalid database configuration")
		}
		pool, err := database.Connect(ctx, dbConfig, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		pg := dispatch.NewPostgresRepository(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate booking schema")
		}
		repo = pg
		subsystems = append(subsystems, handler.Subsystem{Name: "postgres", Pinger: pg})
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
	default:
		repo = dispatch.NewInMemoryRepository()
	}

	// Providers
	registry := resilience.NewRegistry()

	geocoders := geocode.Chain{geocode.Literal{}, geocode.DelhiLandmarks}
	if cfg.GoogleMapsAPIKey != "" {
		g, err := google.New(google.Config{
			APIKey:   cfg.GoogleMapsAPIKey,
			Region:   "in",
			Registry: registry,
			Logger:   log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create google geocoder")
		}
		geocoders = append(geocoders, g)
	} else {
		log.Warn().Msg("GOOGLE_MAPS_API_KEY not set, geocoding limited to coordinates and known landmarks")
	}

	var weatherProvider weather.Provider
	if cfg.OpenWeatherMapAPIKey != "" {
		weatherProvider = openweathermap.NewClient(openweathermap.ClientConfig{
			APIKey:   cfg.OpenWeatherMapAPIKey,
			Registry: registry,
			Logger:   log,
		})
	} else {
		log.Warn().Msg("OPENWEATHERMAP_API_KEY not set, all quotes use clear weather")
	}
	weatherService := weather.NewService(weather.ServiceConfig{
		Provider: weatherProvider,
		Logger:   log,
		CacheTTL: cfg.WeatherCacheTTL,
	})

	publisher, err := events.New(ctx, cfg.Events, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publishers")
	}
	defer publisher.Close()

	svc := dispatch.NewService(dispatch.Config{
		Geocoder:        geocoders,
		Weather:         weatherService,
		Taxis:           taxis,
		Simulator:       dispatch.NewSimulator(dispatch.SimulationCenter, 0, nil),
		Repository:      repo,
		Publisher:       publisher,
		AverageSpeedKmh: cfg.AverageSpeedKmh,
		Logger:          log,
	})

	if cfg.PubSubControlSubscription != "" {
		h, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Events.PubSubProjectID,
			SubscriptionName: cfg.PubSubControlSubscription,
			Runner: worker.NewRunner(worker.RunnerConfig{
				Fleet:   svc,
				Health:  svc,
				Weather: weatherService,
				Logger:  log,
			}),
			Logger: log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create control subscription")
		}
		defer h.Close()

		go func() {
			if err := h.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("control subscription stopped")
			}
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    metrics,
		Dispatcher: svc,
		Registry:   registry,
		Subsystems: subsystems,
		RateLimit:  cfg.RateLimit,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
