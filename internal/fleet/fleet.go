// Package fleet keeps a periodically refreshed snapshot of the taxi fleet.
package fleet

import (
	"context"
	"strings"
	"time"

	"github.com/taxiride/tripsim/internal/geo"
)

// SimulatedPrefix marks taxis generated by the dispatch service rather than
// tracked in its fleet store. They are always available and never locked.
const SimulatedPrefix = "S"

// Taxi is one vehicle as reported by the dispatch service.
type Taxi struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Available bool    `json:"available"`
}

// Coordinate returns the taxi's position.
func (t Taxi) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: t.Lat, Lng: t.Lng}
}

// Simulated reports whether the taxi is a generated one.
func (t Taxi) Simulated() bool {
	return strings.HasPrefix(t.ID, SimulatedPrefix)
}

// Snapshot is an ordered fleet listing at a point in time.
type Snapshot struct {
	Taxis     []Taxi    `json:"taxis"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Visible returns the taxis to display, excluding the one assigned to the
// active booking since it is drawn by the trip simulation instead.
func (s Snapshot) Visible(assignedID string) []Taxi {
	visible := make([]Taxi, 0, len(s.Taxis))
	for _, t := range s.Taxis {
		if assignedID != "" && t.ID == assignedID {
			continue
		}
		visible = append(visible, t)
	}
	return visible
}

// Find returns the taxi with the given id.
func (s Snapshot) Find(id string) (Taxi, bool) {
	for _, t := range s.Taxis {
		if t.ID == id {
			return t, true
		}
	}
	return Taxi{}, false
}

// Available returns the number of available taxis.
func (s Snapshot) Available() int {
	n := 0
	for _, t := range s.Taxis {
		if t.Available {
			n++
		}
	}
	return n
}

// Source lists the fleet.
type Source interface {
	ListTaxis(ctx context.Context) ([]Taxi, error)
}
