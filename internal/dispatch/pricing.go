package dispatch

import (
	"math"
	"time"

	"github.com/taxiride/tripsim/internal/booking"
	"github.com/taxiride/tripsim/internal/geo"
	"github.com/taxiride/tripsim/internal/weather"
	"github.com/taxiride/tripsim/pkg/polyline"
)

// Fare constants, in rupees.
const (
	BaseFare  = 50.0
	PerKmRate = 12.0

	CancelBaseFee   = 25.0
	CancelPerKmRate = 5.0 // per km the driver actually travelled
	CancelPerMinute = 0.5 // per minute the driver was kept waiting
)

// FreeCancelWindow is how long a booking can be cancelled without a fee.
const FreeCancelWindow = 30 * time.Second

// DefaultAverageSpeedKmh converts straight-line distance into minutes.
const DefaultAverageSpeedKmh = 25.0

// routeStepKm is the spacing of points in generated route polylines.
const routeStepKm = 0.2

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Fare prices a trip of km kilometres.
func Fare(km, surge float64) float64 {
	return Round2((BaseFare + PerKmRate*km) * surge)
}

// EtaMinutes is the whole number of minutes needed to cover km, at least one.
func EtaMinutes(km, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = DefaultAverageSpeedKmh
	}
	return math.Max(1, math.Floor(km/speedKmh*60))
}

// CancellationFee prices cancelling b after elapsed. It covers the base fee,
// the rider's waiting time and the share of the approach the driver has
// already driven, scaled by the weather surge stored on the booking.
func CancellationFee(b booking.Booking, elapsed time.Duration) float64 {
	etaSeconds := b.TaxiEtaMin * 60
	if etaSeconds <= 0 {
		etaSeconds = 60
	}
	progress := math.Min(1, elapsed.Seconds()/etaSeconds)

	fee := CancelBaseFee
	fee += elapsed.Minutes() * CancelPerMinute
	fee += b.TaxiDistanceKm * progress * CancelPerKmRate

	w := b.Weather
	if w == "" {
		w = weather.DefaultDescription
	}
	return Round2(fee * weather.SurgeMultiplier(w))
}

// StraightRoute encodes a straight route from a to b with a point roughly
// every 200 m.
func StraightRoute(a, b geo.Coordinate) string {
	points := polyline.Densify([]polyline.Coordinate{
		{Lat: a.Lat, Lng: a.Lng},
		{Lat: b.Lat, Lng: b.Lng},
	}, routeStepKm)
	return polyline.Encode(points)
}
