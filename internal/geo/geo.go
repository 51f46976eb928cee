// Package geo provides great-circle distance and coordinate interpolation.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinate indicates a latitude or longitude outside the valid range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a geographic point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within [-90, 90] x [-180, 180].
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// String formats the coordinate as "lat,lng".
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lng, 'f', 6, 64)
}

// ParseCoordinate parses a "lat,lng" pair such as "28.6139,77.2090".
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coordinate{}, fmt.Errorf("%w: %q is not a lat,lng pair", ErrInvalidCoordinate, s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: latitude %q", ErrInvalidCoordinate, parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: longitude %q", ErrInvalidCoordinate, parts[1])
	}

	c := Coordinate{Lat: lat, Lng: lng}
	if !c.Valid() {
		return Coordinate{}, fmt.Errorf("%w: %s out of range", ErrInvalidCoordinate, c)
	}
	return c, nil
}

// DistanceKm returns the haversine great-circle distance between a and b in kilometers.
func DistanceKm(a, b Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	sinDLat := math.Sin(dLat / 2)
	sinDLng := math.Sin(dLng / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLng*sinDLng
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Interpolate linearly interpolates latitude and longitude independently.
// Fractions outside [0, 1] extrapolate; callers clamp when they need to.
func Interpolate(start, end Coordinate, fraction float64) Coordinate {
	return Coordinate{
		Lat: start.Lat + (end.Lat-start.Lat)*fraction,
		Lng: start.Lng + (end.Lng-start.Lng)*fraction,
	}
}

// Path returns n+1 evenly spaced points from start to end inclusive.
func Path(start, end Coordinate, n int) []Coordinate {
	if n < 1 {
		n = 1
	}
	points := make([]Coordinate, 0, n+1)
	for i := 0; i < n; i++ {
		points = append(points, Interpolate(start, end, float64(i)/float64(n)))
	}
	return append(points, end)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
