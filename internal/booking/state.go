package booking

import (
	"github.com/taxiride/tripsim/internal/geo"
	"github.com/taxiride/tripsim/internal/policy"
	"github.com/taxiride/tripsim/internal/trip"
)

// SelectMode is which end of the trip the rider is picking on the map.
type SelectMode string

const (
	SelectNone   SelectMode = ""
	SelectPickup SelectMode = "pickup"
	SelectDrop   SelectMode = "drop"
)

// Selection is the in-progress map selection, cleared by a successful quote.
type Selection struct {
	Mode          SelectMode      `json:"mode,omitempty"`
	Pickup        *geo.Coordinate `json:"pickup,omitempty"`
	Drop          *geo.Coordinate `json:"drop,omitempty"`
	PickupAddress string          `json:"pickup_address,omitempty"`
	DropAddress   string          `json:"drop_address,omitempty"`
}

// State is the orchestrator's single source of truth.
type State struct {
	// Version increases with every change.
	Version uint64 `json:"version"`

	Quote       *Quote       `json:"quote,omitempty"`
	Booking     *Booking     `json:"booking,omitempty"`
	RebookQuote *RebookQuote `json:"rebook_quote,omitempty"`

	Phase          trip.Phase      `json:"phase"`
	Position       *geo.Coordinate `json:"position,omitempty"`
	Trip           trip.State      `json:"trip"`
	StatusMessage  string          `json:"status_message,omitempty"`
	AssignedTaxiID string          `json:"assigned_taxi_id,omitempty"`
	Fee            policy.FeeState `json:"fee"`

	LastCancel *CancelResult `json:"last_cancel,omitempty"`
	Error      string        `json:"error,omitempty"`
	Loading    bool          `json:"loading"`
	Selection  Selection     `json:"selection"`
}

// clone returns a copy that shares no pointers with s.
func (s State) clone() State {
	c := s
	if s.Quote != nil {
		q := *s.Quote
		c.Quote = &q
	}
	if s.Booking != nil {
		b := *s.Booking
		c.Booking = &b
	}
	if s.RebookQuote != nil {
		r := *s.RebookQuote
		c.RebookQuote = &r
	}
	if s.Position != nil {
		p := *s.Position
		c.Position = &p
	}
	if s.LastCancel != nil {
		l := *s.LastCancel
		c.LastCancel = &l
	}
	if s.Selection.Pickup != nil {
		p := *s.Selection.Pickup
		c.Selection.Pickup = &p
	}
	if s.Selection.Drop != nil {
		d := *s.Selection.Drop
		c.Selection.Drop = &d
	}
	return c
}
