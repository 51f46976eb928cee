// Package google resolves addresses through the Google Geocoding API.
package google

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"

	"github.com/taxiride/tripsim/internal/geo"
	"github.com/taxiride/tripsim/internal/geocode"
	"github.com/taxiride/tripsim/internal/provider/resilience"
)

// ProviderName identifies the geocoder in the provider registry.
const ProviderName = "geocoding"

// Config holds configuration for the Google geocoder.
type Config struct {
	APIKey string

	// BaseURL overrides the Maps API endpoint (optional).
	BaseURL string

	// Region biases results, e.g. "in" (optional).
	Region string

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// HTTPClient overrides the resilient transport (optional).
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// Geocoder implements geocode.Geocoder using the Maps Geocoding API.
type Geocoder struct {
	client *maps.Client
	region string
	logger zerolog.Logger
}

// New creates a Geocoder.
func New(cfg Config) (*Geocoder, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	opts := []maps.ClientOption{
		maps.WithAPIKey(cfg.APIKey),
		maps.WithHTTPClient(httpClient.StandardClient()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}

	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}

	return &Geocoder{
		client: client,
		region: cfg.Region,
		logger: cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}, nil
}

// Geocode implements geocode.Geocoder.
func (g *Geocoder) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  g.region,
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("address", address).Msg("geocoding failed")
		return geo.Coordinate{}, fmt.Errorf("%w: geocoding api error: %w", geocode.ErrNotFound, err)
	}
	if len(results) == 0 {
		return geo.Coordinate{}, geocode.ErrNotFound
	}

	loc := results[0].Geometry.Location
	g.logger.Debug().
		Str("address", address).
		Str("formatted", results[0].FormattedAddress).
		Msg("geocoded address")
	return geo.Coordinate{Lat: loc.Lat, Lng: loc.Lng}, nil
}
