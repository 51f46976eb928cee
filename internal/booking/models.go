// Package booking coordinates quotes, bookings, cancellations and rebooks
// against the remote dispatch service and drives the trip simulation.
package booking

import (
	"context"
	"math"
	"time"

	"github.com/taxiride/tripsim/internal/geo"
	"github.com/taxiride/tripsim/internal/trip"
)

// Quote is an unconfirmed fare and route estimate for a pickup/drop pair.
type Quote struct {
	ID         string  `json:"id,omitempty"`
	Taxi       string  `json:"taxi"`
	Pickup     string  `json:"pickup"`
	Drop       string  `json:"drop"`
	DistanceKm float64 `json:"distance_km"`
	EtaMin     float64 `json:"eta_min"`
	Weather    string  `json:"weather"`
	Fare       float64 `json:"fare"`

	PickupLat    float64 `json:"pickup_lat"`
	PickupLng    float64 `json:"pickup_lng"`
	DropLat      float64 `json:"drop_lat"`
	DropLng      float64 `json:"drop_lng"`
	TaxiStartLat float64 `json:"taxi_start_lat"`
	TaxiStartLng float64 `json:"taxi_start_lng"`

	TaxiEtaMin     float64 `json:"taxi_eta_min"`
	TaxiDistanceKm float64 `json:"taxi_distance_km"`

	TaxiRoutePolyline string `json:"taxi_route_polyline,omitempty"`
	TripRoutePolyline string `json:"trip_route_polyline,omitempty"`
}

// PickupCoordinate returns the geocoded pickup location.
func (q Quote) PickupCoordinate() geo.Coordinate {
	return geo.Coordinate{Lat: q.PickupLat, Lng: q.PickupLng}
}

// DropCoordinate returns the geocoded drop location.
func (q Quote) DropCoordinate() geo.Coordinate {
	return geo.Coordinate{Lat: q.DropLat, Lng: q.DropLng}
}

// TaxiStartCoordinate returns where the assigned taxi was when quoted.
func (q Quote) TaxiStartCoordinate() geo.Coordinate {
	return geo.Coordinate{Lat: q.TaxiStartLat, Lng: q.TaxiStartLng}
}

// Booking is a confirmed quote.
type Booking struct {
	Quote
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Plan converts the booking into simulation input.
func (b Booking) Plan() trip.Plan {
	return trip.Plan{
		BookingID:       b.ID,
		TaxiID:          b.Taxi,
		TaxiStart:       b.TaxiStartCoordinate(),
		Pickup:          b.PickupCoordinate(),
		Drop:            b.DropCoordinate(),
		DropAddress:     b.Drop,
		ApproachKm:      b.TaxiDistanceKm,
		ApproachMinutes: b.TaxiEtaMin,
		TripMinutes:     b.EtaMin,
		Fare:            b.Fare,
		ApproachRoute:   trip.DecodeRoute(b.TaxiRoutePolyline),
		TripRoute:       trip.DecodeRoute(b.TripRoutePolyline),
	}
}

// RebookQuote is a fresh quote for the current booking's route plus the fee
// for cancelling the current booking.
type RebookQuote struct {
	Quote
	CancellationFee float64 `json:"cancellation_fee"`
	TotalRebookCost float64 `json:"total_rebook_cost"`
}

// NewRebookQuote builds a rebook quote, totalling the new fare and the fee.
func NewRebookQuote(q Quote, fee float64) RebookQuote {
	return RebookQuote{
		Quote:           q,
		CancellationFee: fee,
		TotalRebookCost: math.Round((q.Fare+fee)*100) / 100,
	}
}

// CancelResult is the remote answer to a cancellation.
type CancelResult struct {
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	FeeApplied      bool    `json:"fee_applied"`
	CancellationFee float64 `json:"cancellation_fee"`
}

// Remote is the booking side of the dispatch service.
type Remote interface {
	Estimate(ctx context.Context, pickup, drop string) (*Quote, error)
	Confirm(ctx context.Context, quote Quote) (*Booking, error)
	Cancel(ctx context.Context, bookingID string) (*CancelResult, error)
}
