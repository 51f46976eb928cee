// Package database provides PostgreSQL connection management for the
// booking repository.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds database connection configuration.
type Config struct {
	// URL, when set, takes precedence over the individual fields.
	URL string

	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds the total time spent retrying the first
	// connection (default 30s).
	ConnectTimeout time.Duration
}

// ConfigFromEnv reads DATABASE_URL or the DB_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		User:     getEnvOrDefault("DB_USER", "tripsim"),
		Password: getEnvOrDefault("DB_PASSWORD", "localdev"),
		Database: getEnvOrDefault("DB_NAME", "tripsim"),
		SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
	}

	var err error
	if cfg.Port, err = intFromEnv("DB_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.MaxConns, err = intFromEnv("DB_MAX_CONNS", 10); err != nil {
		return Config{}, err
	}
	if cfg.MinConns, err = intFromEnv("DB_MIN_CONNS", 1); err != nil {
		return Config{}, err
	}
	if cfg.MinConns > cfg.MaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.MinConns, cfg.MaxConns)
	}
	if cfg.ConnMaxLifetime, err = durationFromEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = durationFromEnv("DB_CONNECT_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConnectionString returns the PostgreSQL connection URL.
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Connect creates a connection pool, retrying the initial ping with
// exponential backoff so the service can start alongside its database.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns) //nolint:gosec // bounded by config validation
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns) //nolint:gosec // bounded by config validation
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = timeout

	attempt := 0
	ping := func() error {
		attempt++
		err := pool.Ping(ctx)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("database not reachable yet")
		}
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Str("database", poolConfig.ConnConfig.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("database connected")
	return pool, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intFromEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
