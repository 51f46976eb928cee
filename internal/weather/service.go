package weather

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Provider defines the interface for weather data providers.
type Provider interface {
	// GetCurrentWeather fetches current weather for a location.
	GetCurrentWeather(ctx context.Context, lat, lon float64) (*Observation, error)

	// Name returns the provider name for logging.
	Name() string
}

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	// Provider is the weather data provider. A nil provider makes every
	// lookup report DefaultDescription.
	Provider Provider

	Logger zerolog.Logger

	// CacheTTL is how long to cache weather data (default: 10 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.1).
	// Pickups within the same grid cell share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 1 hour).
	StaleIfErrorTTL time.Duration
}

// Service provides current conditions with caching.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration

	mu              sync.RWMutex
	cache           map[string]*cachedObservation
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

type cachedObservation struct {
	observation *Observation
	fetchedAt   time.Time
	expiresAt   time.Time
}

// NewService creates a new weather service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.1 // ~11km
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 1 * time.Hour
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		staleIfErrorTTL: staleIfErrorTTL,
		cache:           make(map[string]*cachedObservation),
		cleanupInterval: 5 * time.Minute,
	}
}

// Describe returns the weather text used for surge pricing at a pickup.
// It never fails: any lookup problem yields DefaultDescription.
func (s *Service) Describe(ctx context.Context, lat, lon float64) string {
	if s.provider == nil {
		return DefaultDescription
	}
	obs, err := s.GetCurrentWeather(ctx, lat, lon)
	if err != nil {
		s.logger.Warn().Err(err).
			Float64("lat", lat).
			Float64("lon", lon).
			Msg("weather lookup failed, assuming clear")
		return DefaultDescription
	}
	return obs.Label()
}

// GetCurrentWeather returns current weather for a location.
// Uses cached data if available and not expired.
func (s *Service) GetCurrentWeather(ctx context.Context, lat, lon float64) (*Observation, error) {
	if err := validateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}

	cacheKey := s.cacheKey(lat, lon)

	s.mu.RLock()
	if cached, ok := s.cache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.observation, nil
	}
	s.mu.RUnlock()

	return s.fetchWeather(ctx, lat, lon, cacheKey)
}

// fetchWeather fetches weather from provider and updates cache.
func (s *Service) fetchWeather(ctx context.Context, lat, lon float64, cacheKey string) (*Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check cache
	if cached, ok := s.cache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		return cached.observation, nil
	}

	s.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Str("provider", s.provider.Name()).
		Msg("fetching weather from provider")

	obs, err := s.provider.GetCurrentWeather(ctx, lat, lon)
	if err != nil {
		s.logger.Error().Err(err).
			Float64("lat", lat).
			Float64("lon", lon).
			Msg("failed to fetch weather")

		if cached, ok := s.cache[cacheKey]; ok {
			if time.Now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
				s.logger.Warn().
					Time("fetched_at", cached.fetchedAt).
					Msg("serving stale weather data due to provider error")
				return cached.observation, nil
			}
		}

		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	now := time.Now()
	s.cache[cacheKey] = &cachedObservation{
		observation: obs,
		fetchedAt:   now,
		expiresAt:   now.Add(s.cacheTTL),
	}

	s.cleanupIfNeeded()

	return obs, nil
}

// cacheKey groups nearby points into grid cells.
func (s *Service) cacheKey(lat, lon float64) string {
	gridLat := math.Floor(lat/s.cacheGridSize) * s.cacheGridSize
	gridLon := math.Floor(lon/s.cacheGridSize) * s.cacheGridSize
	return fmt.Sprintf("%.2f:%.2f", gridLat, gridLon)
}

// cleanupIfNeeded removes entries too old to serve even as stale data.
func (s *Service) cleanupIfNeeded() {
	now := time.Now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}

	s.lastCleanup = now
	expired := 0

	for key, cached := range s.cache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired weather cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedObservation)
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	fresh := 0
	for _, c := range s.cache {
		if now.Before(c.expiresAt) {
			fresh++
		}
	}

	stats := CacheStats{
		Entries:      len(s.cache),
		FreshEntries: fresh,
	}
	if s.provider != nil {
		stats.Provider = s.provider.Name()
	}
	return stats
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Entries      int
	FreshEntries int
	Provider     string
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}
