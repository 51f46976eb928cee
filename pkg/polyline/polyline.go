// Package polyline provides encoding and decoding utilities for Google's polyline algorithm.
// The polyline algorithm is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"math"
)

// ErrMalformed is returned by DecodeStrict when the input ends mid-value
// or contains characters outside the polyline alphabet.
var ErrMalformed = errors.New("polyline: malformed input")

// Coordinate represents a geographic point with latitude and longitude.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Decode decodes a polyline-encoded string into a slice of coordinates.
// Trailing garbage is ignored; use DecodeStrict to reject it.
func Decode(encoded string) []Coordinate {
	coords, _ := decode(encoded, false)
	return coords
}

// DecodeStrict is Decode that fails on truncated or invalid input.
func DecodeStrict(encoded string) ([]Coordinate, error) {
	return decode(encoded, true)
}

func decode(encoded string, strict bool) ([]Coordinate, error) {
	if encoded == "" {
		return nil, nil
	}

	var coords []Coordinate
	index := 0
	lat := 0
	lng := 0

	for index < len(encoded) {
		latDelta, newIndex, ok := decodeValue(encoded, index)
		if !ok {
			if strict {
				return nil, ErrMalformed
			}
			break
		}
		index = newIndex
		lat += latDelta

		lngDelta, newIndex, ok := decodeValue(encoded, index)
		if !ok {
			if strict {
				return nil, ErrMalformed
			}
			break
		}
		index = newIndex
		lng += lngDelta

		coords = append(coords, Coordinate{
			Lat: float64(lat) / 1e5,
			Lng: float64(lng) / 1e5,
		})
	}

	return coords, nil
}

// decodeValue decodes a single value from the polyline at the given index.
// Returns the decoded delta, the new index and whether a complete value was read.
func decodeValue(encoded string, index int) (int, int, bool) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		if b < 0 || b > 0x3f {
			return 0, index, false
		}
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			// Apply two's complement for negative values
			if result&1 != 0 {
				return ^(result >> 1), index, true
			}
			return result >> 1, index, true
		}
	}

	return 0, index, false
}

// Encode encodes a slice of coordinates into a polyline-encoded string
// with 5 decimal places of precision.
func Encode(coords []Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(coords)*4)
	prevLat := 0
	prevLng := 0

	for _, coord := range coords {
		lat := int(math.Round(coord.Lat * 1e5))
		lng := int(math.Round(coord.Lng * 1e5))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lng-prevLng)

		prevLat = lat
		prevLng = lng
	}

	return string(encoded)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	buf = append(buf, byte(value)+63)

	return buf
}

// LengthKm calculates the total length of a polyline in kilometers.
func LengthKm(coords []Coordinate) float64 {
	if len(coords) < 2 {
		return 0
	}

	var total float64
	for i := 1; i < len(coords); i++ {
		total += haversineKm(coords[i-1], coords[i])
	}
	return total
}

// Densify returns the polyline with extra points inserted so that no gap
// exceeds roughly stepKm. The first and last coordinates are always kept.
func Densify(coords []Coordinate, stepKm float64) []Coordinate {
	if len(coords) == 0 {
		return nil
	}
	if stepKm <= 0 {
		return coords
	}

	dense := []Coordinate{coords[0]}
	accumulated := 0.0

	for i := 1; i < len(coords); i++ {
		segment := haversineKm(coords[i-1], coords[i])
		walked := 0.0

		for accumulated+(segment-walked) >= stepKm {
			walked += stepKm - accumulated
			fraction := walked / segment
			dense = append(dense, Coordinate{
				Lat: coords[i-1].Lat + fraction*(coords[i].Lat-coords[i-1].Lat),
				Lng: coords[i-1].Lng + fraction*(coords[i].Lng-coords[i-1].Lng),
			})
			accumulated = 0
		}

		accumulated += segment - walked
	}

	last := coords[len(coords)-1]
	if dense[len(dense)-1] != last {
		dense = append(dense, last)
	}

	return dense
}

const earthRadiusKm = 6371.0

func haversineKm(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLng := math.Sin(dLng / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLng*sinDLng
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
