// Package geocode resolves free-form pickup and drop addresses to coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taxiride/tripsim/internal/geo"
)

// ErrNotFound is returned when no geocoder could resolve an address.
var ErrNotFound = errors.New("location not found")

// Geocoder resolves an address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
}

// Literal resolves addresses written as "lat,lng".
type Literal struct{}

// Geocode implements Geocoder.
func (Literal) Geocode(_ context.Context, address string) (geo.Coordinate, error) {
	c, err := geo.ParseCoordinate(address)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return c, nil
}

// Gazetteer resolves well-known place names, matched case-insensitively.
type Gazetteer map[string]geo.Coordinate

// DelhiLandmarks covers the places used by the scripted rides.
var DelhiLandmarks = Gazetteer{
	"connaught place":                     {Lat: 28.6315, Lng: 77.2167},
	"india gate":                          {Lat: 28.6129, Lng: 77.2295},
	"new delhi railway station":           {Lat: 28.6430, Lng: 77.2194},
	"red fort":                            {Lat: 28.6562, Lng: 77.2410},
	"qutub minar":                         {Lat: 28.5245, Lng: 77.1855},
	"indira gandhi international airport": {Lat: 28.5562, Lng: 77.1000},
}

// Geocode implements Geocoder.
func (g Gazetteer) Geocode(_ context.Context, address string) (geo.Coordinate, error) {
	if c, ok := g[strings.ToLower(strings.TrimSpace(address))]; ok {
		return c, nil
	}
	return geo.Coordinate{}, ErrNotFound
}

// Chain tries each geocoder in order and returns the first match.
type Chain []Geocoder

// Geocode implements Geocoder. Context errors stop the chain.
func (c Chain) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	if strings.TrimSpace(address) == "" {
		return geo.Coordinate{}, fmt.Errorf("%w: empty address", ErrNotFound)
	}

	var errs []error
	for _, g := range c {
		coord, err := g.Geocode(ctx, address)
		if err == nil {
			return coord, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return geo.Coordinate{}, ctxErr
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return geo.Coordinate{}, ErrNotFound
	}
	return geo.Coordinate{}, fmt.Errorf("%w: %q: %w", ErrNotFound, address, errors.Join(errs...))
}
