package dispatch

import (
	"context"
	"sync"

	"github.com/taxiride/tripsim/internal/booking"
)

// Repository stores confirmed bookings until they are cancelled.
type Repository interface {
	// Create stores a new booking.
	Create(ctx context.Context, b *booking.Booking) error

	// Get retrieves a booking by id. Returns ErrBookingNotFound if missing.
	Get(ctx context.Context, id string) (*booking.Booking, error)

	// Delete removes a booking. Returns ErrBookingNotFound if missing.
	Delete(ctx context.Context, id string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu       sync.RWMutex
	bookings map[string]*booking.Booking
}

// NewInMemoryRepository creates a new in-memory booking repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		bookings: make(map[string]*booking.Booking),
	}
}

// Create stores a new booking.
func (r *InMemoryRepository) Create(_ context.Context, b *booking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *b
	r.bookings[b.ID] = &cpy
	return nil
}

// Get retrieves a booking by id.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*booking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}

	// Return a copy
	cpy := *b
	return &cpy, nil
}

// Delete removes a booking.
func (r *InMemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bookings[id]; !ok {
		return ErrBookingNotFound
	}
	delete(r.bookings, id)
	return nil
}
