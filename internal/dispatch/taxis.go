package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/taxiride/tripsim/internal/fleet"
	"github.com/taxiride/tripsim/internal/geo"
)

// TaxiStore holds the fleet-managed taxis and their availability.
type TaxiStore interface {
	// List returns all managed taxis ordered by id.
	List(ctx context.Context) ([]fleet.Taxi, error)

	// Lock marks the taxi unavailable. It returns false when the taxi is
	// unknown or already locked.
	Lock(ctx context.Context, id string) (bool, error)

	// Release marks the taxi available again. Unknown ids are ignored.
	Release(ctx context.Context, id string) error

	// Reset makes every taxi available.
	Reset(ctx context.Context) error
}

// DefaultFleet is the managed fleet around central Delhi.
func DefaultFleet() []fleet.Taxi {
	return []fleet.Taxi{
		{ID: "T1", Lat: 28.61, Lng: 77.20, Available: true},
		{ID: "T2", Lat: 28.62, Lng: 77.21, Available: true},
		{ID: "T3", Lat: 28.65, Lng: 77.18, Available: true},
		{ID: "T4", Lat: 28.60, Lng: 77.25, Available: true},
	}
}

// SimulationCenter is where simulated taxis are scattered.
var SimulationCenter = geo.Coordinate{Lat: 28.6139, Lng: 77.2090}

const (
	simulatedCount  = 10
	simulatedJitter = 0.1 // degrees, about 11 km
)

// Simulator scatters always-available taxis around a center. Every listing
// gets fresh positions.
type Simulator struct {
	center geo.Coordinate
	count  int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a Simulator. A nil rng uses a randomly seeded one.
func NewSimulator(center geo.Coordinate, count int, rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if count <= 0 {
		count = simulatedCount
	}
	return &Simulator{center: center, count: count, rng: rng}
}

// Taxis returns the simulated taxis S1..Sn.
func (s *Simulator) Taxis() []fleet.Taxi {
	s.mu.Lock()
	defer s.mu.Unlock()

	taxis := make([]fleet.Taxi, s.count)
	for i := range taxis {
		taxis[i] = fleet.Taxi{
			ID:        fmt.Sprintf("%s%d", fleet.SimulatedPrefix, i+1),
			Lat:       s.center.Lat + s.jitter(),
			Lng:       s.center.Lng + s.jitter(),
			Available: true,
		}
	}
	return taxis
}

func (s *Simulator) jitter() float64 {
	return (s.rng.Float64()*2 - 1) * simulatedJitter
}

// Nearest returns the available taxi closest to p. Ties keep the earlier taxi.
func Nearest(p geo.Coordinate, taxis []fleet.Taxi) (fleet.Taxi, bool) {
	var (
		best  fleet.Taxi
		bestD float64
		found bool
	)
	for _, t := range taxis {
		if !t.Available {
			continue
		}
		d := geo.DistanceKm(p, t.Coordinate())
		if !found || d < bestD {
			best, bestD, found = t, d, true
		}
	}
	return best, found
}

// MemoryTaxiStore is an in-process TaxiStore.
type MemoryTaxiStore struct {
	mu    sync.Mutex
	taxis map[string]fleet.Taxi
}

// NewMemoryTaxiStore creates a store holding taxis, all available.
func NewMemoryTaxiStore(taxis []fleet.Taxi) *MemoryTaxiStore {
	m := &MemoryTaxiStore{taxis: make(map[string]fleet.Taxi, len(taxis))}
	for _, t := range taxis {
		t.Available = true
		m.taxis[t.ID] = t
	}
	return m
}

// List implements TaxiStore.
func (m *MemoryTaxiStore) List(_ context.Context) ([]fleet.Taxi, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]fleet.Taxi, 0, len(m.taxis))
	for _, t := range m.taxis {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lock implements TaxiStore.
func (m *MemoryTaxiStore) Lock(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.taxis[id]
	if !ok || !t.Available {
		return false, nil
	}
	t.Available = false
	m.taxis[id] = t
	return true, nil
}

// Release implements TaxiStore.
func (m *MemoryTaxiStore) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.taxis[id]; ok {
		t.Available = true
		m.taxis[id] = t
	}
	return nil
}

// Reset implements TaxiStore.
func (m *MemoryTaxiStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.taxis {
		t.Available = true
		m.taxis[id] = t
	}
	return nil
}
