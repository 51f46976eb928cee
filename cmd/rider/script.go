package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/booking"
)

// rider is the part of booking.Service a scripted ride drives.
type rider interface {
	GetQuote(ctx context.Context, pickup, drop string) (*booking.Quote, error)
	ConfirmBooking(ctx context.Context, quote booking.Quote) (*booking.Booking, error)
	CancelBooking(ctx context.Context) (*booking.CancelResult, error)
	InitiateRebook(ctx context.Context) (*booking.RebookQuote, error)
	ConfirmRebook(ctx context.Context, rq booking.RebookQuote) (*booking.Booking, error)
}

// script books one ride and optionally cancels or rebooks it after a delay.
type script struct {
	pickup      string
	drop        string
	cancelAfter time.Duration
	rebookAfter time.Duration
	logger      zerolog.Logger

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s script) run(ctx context.Context, r rider) error {
	quote, err := r.GetQuote(ctx, s.pickup, s.drop)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	s.logger.Info().
		Str("taxi", quote.Taxi).
		Float64("fare", quote.Fare).
		Float64("distance_km", quote.DistanceKm).
		Str("weather", quote.Weather).
		Msg("quote received")

	b, err := r.ConfirmBooking(ctx, *quote)
	if err != nil {
		return fmt.Errorf("confirm: %w", err)
	}
	s.logger.Info().Str("booking_id", b.ID).Str("taxi", b.Taxi).Msg("booking confirmed")

	switch {
	case s.cancelAfter > 0:
		if err := s.wait(ctx, s.cancelAfter); err != nil {
			return nil
		}
		res, err := r.CancelBooking(ctx)
		if err != nil {
			return fmt.Errorf("cancel: %w", err)
		}
		s.logger.Info().Float64("fee", res.CancellationFee).Str("message", res.Message).Msg("booking canceled")

	case s.rebookAfter > 0:
		if err := s.wait(ctx, s.rebookAfter); err != nil {
			return nil
		}
		rq, err := r.InitiateRebook(ctx)
		if err != nil {
			return fmt.Errorf("rebook quote: %w", err)
		}
		s.logger.Info().
			Str("taxi", rq.Taxi).
			Float64("cancellation_fee", rq.CancellationFee).
			Float64("total", rq.TotalRebookCost).
			Msg("rebook quote received")

		nb, err := r.ConfirmRebook(ctx, *rq)
		if err != nil {
			return fmt.Errorf("rebook: %w", err)
		}
		s.logger.Info().Str("booking_id", nb.ID).Str("taxi", nb.Taxi).Msg("rebooked")
	}
	return nil
}
