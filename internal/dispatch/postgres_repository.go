package dispatch

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxiride/tripsim/internal/booking"
)

// Schema creates the bookings table.
const Schema = `
CREATE TABLE IF NOT EXISTS bookings (
	id                  TEXT PRIMARY KEY,
	quote_id            TEXT NOT NULL DEFAULT '',
	taxi_id             TEXT NOT NULL,
	pickup              TEXT NOT NULL,
	drop_address        TEXT NOT NULL,
	distance_km         DOUBLE PRECISION NOT NULL,
	eta_min             DOUBLE PRECISION NOT NULL,
	weather             TEXT NOT NULL,
	fare                DOUBLE PRECISION NOT NULL,
	pickup_lat          DOUBLE PRECISION NOT NULL,
	pickup_lng          DOUBLE PRECISION NOT NULL,
	drop_lat            DOUBLE PRECISION NOT NULL,
	drop_lng            DOUBLE PRECISION NOT NULL,
	taxi_start_lat      DOUBLE PRECISION NOT NULL,
	taxi_start_lng      DOUBLE PRECISION NOT NULL,
	taxi_eta_min        DOUBLE PRECISION NOT NULL,
	taxi_distance_km    DOUBLE PRECISION NOT NULL,
	taxi_route_polyline TEXT NOT NULL DEFAULT '',
	trip_route_polyline TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL
)`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL booking repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Ping checks the connection pool.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return err
}

// Create stores a new booking.
func (r *PostgresRepository) Create(ctx context.Context, b *booking.Booking) error {
	query := `
		INSERT INTO bookings (
			id, quote_id, taxi_id, pickup, drop_address,
			distance_km, eta_min, weather, fare,
			pickup_lat, pickup_lng, drop_lat, drop_lng,
			taxi_start_lat, taxi_start_lng, taxi_eta_min, taxi_distance_km,
			taxi_route_polyline, trip_route_polyline, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := r.pool.Exec(ctx, query,
		b.ID,
		b.Quote.ID,
		b.Taxi,
		b.Pickup,
		b.Drop,
		b.DistanceKm,
		b.EtaMin,
		b.Weather,
		b.Fare,
		b.PickupLat,
		b.PickupLng,
		b.DropLat,
		b.DropLng,
		b.TaxiStartLat,
		b.TaxiStartLng,
		b.TaxiEtaMin,
		b.TaxiDistanceKm,
		b.TaxiRoutePolyline,
		b.TripRoutePolyline,
		b.CreatedAt,
	)
	return err
}

// Get retrieves a booking by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*booking.Booking, error) {
	query := `
		SELECT
			id, quote_id, taxi_id, pickup, drop_address,
			distance_km, eta_min, weather, fare,
			pickup_lat, pickup_lng, drop_lat, drop_lng,
			taxi_start_lat, taxi_start_lng, taxi_eta_min, taxi_distance_km,
			taxi_route_polyline, trip_route_polyline, created_at
		FROM bookings
		WHERE id = $1
	`

	var b booking.Booking
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.Quote.ID,
		&b.Taxi,
		&b.Pickup,
		&b.Drop,
		&b.DistanceKm,
		&b.EtaMin,
		&b.Weather,
		&b.Fare,
		&b.PickupLat,
		&b.PickupLng,
		&b.DropLat,
		&b.DropLng,
		&b.TaxiStartLat,
		&b.TaxiStartLng,
		&b.TaxiEtaMin,
		&b.TaxiDistanceKm,
		&b.TaxiRoutePolyline,
		&b.TripRoutePolyline,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

// Delete removes a booking.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}
