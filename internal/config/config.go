// Package config loads process configuration from the environment, with an
// optional .env file in the working directory.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/taxiride/tripsim/internal/events"
	"github.com/taxiride/tripsim/internal/trip"
)

// Common holds settings shared by both processes.
type Common struct {
	Env              string
	LogLevel         string
	TelemetryEnabled bool
	OTLPEndpoint     string
	TraceSampleRatio float64
	Events           events.Config
}

// Rider configures cmd/rider.
type Rider struct {
	Common

	DispatchURL     string
	DispatchTimeout time.Duration

	Strategy     string
	TickInterval time.Duration
	// Seed fixes the simulation's random source; zero means random.
	Seed uint64

	FleetPollInterval time.Duration
	MetricsAddr       string

	// Scripted ride. With Pickup and Drop set the rider books on start-up.
	Pickup      string
	Drop        string
	CancelAfter time.Duration
	RebookAfter time.Duration
}

// Dispatch configures cmd/dispatch.
type Dispatch struct {
	Common

	Port            string
	BookingStore    string // memory or postgres
	AverageSpeedKmh float64
	RateLimit       int // requests per minute per IP

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GoogleMapsAPIKey     string
	OpenWeatherMapAPIKey string
	WeatherCacheTTL      time.Duration

	PubSubControlSubscription string
}

// LoadRider reads the rider configuration.
func LoadRider() (*Rider, error) {
	_ = godotenv.Load()

	common, err := loadCommon("tripsim-rider")
	if err != nil {
		return nil, err
	}
	cfg := &Rider{
		Common:      *common,
		DispatchURL: getenvDefault("DISPATCH_URL", "http://localhost:8000"),
		Strategy:    strings.ToLower(getenvDefault("SIM_STRATEGY", trip.StrategyInterpolate)),
		MetricsAddr: getenvDefault("METRICS_ADDR", ":9102"),
		Pickup:      os.Getenv("RIDER_PICKUP"),
		Drop:        os.Getenv("RIDER_DROP"),
	}

	if cfg.Strategy != trip.StrategyInterpolate && cfg.Strategy != trip.StrategyWaypoints {
		return nil, fmt.Errorf("invalid SIM_STRATEGY: %q", cfg.Strategy)
	}

	if cfg.DispatchTimeout, err = positiveDuration("DISPATCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = positiveDuration("SIM_TICK_INTERVAL", trip.DefaultTickInterval); err != nil {
		return nil, err
	}
	if cfg.FleetPollInterval, err = positiveDuration("FLEET_POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CancelAfter, err = optionalDuration("RIDER_CANCEL_AFTER"); err != nil {
		return nil, err
	}
	if cfg.RebookAfter, err = optionalDuration("RIDER_REBOOK_AFTER"); err != nil {
		return nil, err
	}

	if v := os.Getenv("SIM_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SIM_SEED: %q", v)
		}
		cfg.Seed = seed
	}

	if (cfg.Pickup == "") != (cfg.Drop == "") {
		return nil, fmt.Errorf("RIDER_PICKUP and RIDER_DROP must be set together")
	}

	return cfg, nil
}

// LoadDispatch reads the dispatch service configuration.
func LoadDispatch() (*Dispatch, error) {
	_ = godotenv.Load()

	common, err := loadCommon("tripsim-dispatch")
	if err != nil {
		return nil, err
	}
	cfg := &Dispatch{
		Common:                    *common,
		Port:                      getenvDefault("APP_PORT", "8000"),
		BookingStore:              strings.ToLower(getenvDefault("BOOKING_STORE", "memory")),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		GoogleMapsAPIKey:          os.Getenv("GOOGLE_MAPS_API_KEY"),
		OpenWeatherMapAPIKey:      os.Getenv("OPENWEATHERMAP_API_KEY"),
		PubSubControlSubscription: os.Getenv("PUBSUB_CONTROL_SUBSCRIPTION"),
	}

	switch cfg.BookingStore {
	case "memory", "postgres":
	default:
		return nil, fmt.Errorf("invalid BOOKING_STORE: %q", cfg.BookingStore)
	}

	cfg.AverageSpeedKmh = 25
	if v := os.Getenv("AVERAGE_SPEED_KMH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid AVERAGE_SPEED_KMH: %q", v)
		}
		cfg.AverageSpeedKmh = f
	}

	if cfg.RateLimit, err = nonNegativeInt("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = nonNegativeInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.WeatherCacheTTL, err = positiveDuration("WEATHER_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}

	if cfg.PubSubControlSubscription != "" && cfg.Events.PubSubProjectID == "" {
		return nil, fmt.Errorf("PUBSUB_CONTROL_SUBSCRIPTION requires PUBSUB_PROJECT_ID")
	}

	return cfg, nil
}

func loadCommon(serviceName string) (*Common, error) {
	c := &Common{
		Env:              getenvDefault("APP_ENV", "development"),
		LogLevel:         strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		TelemetryEnabled: parseBool(os.Getenv("OTEL_ENABLED")),
		OTLPEndpoint:     getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Events: events.Config{
			NATSURL:         os.Getenv("NATS_URL"),
			PubSubProjectID: os.Getenv("PUBSUB_PROJECT_ID"),
			PubSubTopic:     os.Getenv("PUBSUB_EVENTS_TOPIC"),
			KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			KafkaTopic:      os.Getenv("KAFKA_TOPIC"),
			ClientName:      serviceName,
		},
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q", c.LogLevel)
	}

	c.TraceSampleRatio = 1
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %q", v)
		}
		c.TraceSampleRatio = f
	}
	return c, nil
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func positiveDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return d, nil
}

func optionalDuration(k string) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return d, nil
}

func nonNegativeInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
