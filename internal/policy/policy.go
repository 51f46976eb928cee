// Package policy implements the rider-side cancellation policy: the free
// cancellation countdown and best-effort lookups of the current fee.
package policy

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// FreeWindow is how long after creation a booking can be cancelled for free.
const FreeWindow = 30 * time.Second

// FeeEstimate is the remote answer to "what would cancelling cost right now".
type FeeEstimate struct {
	FeeApplied      bool    `json:"fee_applied"`
	CancellationFee float64 `json:"cancellation_fee"`
}

// FeeState is what the rider sees while a booking is cancellable.
type FeeState struct {
	FreeSecondsRemaining int     `json:"free_seconds_remaining"`
	CurrentFee           float64 `json:"current_fee"`
}

// FeeEstimator looks up the cancellation fee of a booking.
type FeeEstimator interface {
	EstimateCancelFee(ctx context.Context, bookingID string) (*FeeEstimate, error)
}

// Policy decides when a fee lookup is due and keeps the displayed fee stable
// across failed lookups.
type Policy struct {
	estimator FeeEstimator
	window    time.Duration
	logger    zerolog.Logger
}

// New creates a Policy using the default free window.
func New(estimator FeeEstimator, logger zerolog.Logger) *Policy {
	return &Policy{
		estimator: estimator,
		window:    FreeWindow,
		logger:    logger.With().Str("component", "cancellation_policy").Logger(),
	}
}

// Window returns the free cancellation window.
func (p *Policy) Window() time.Duration {
	return p.window
}

// Countdown computes the free-window part of the fee state. Inside the window
// it returns the rounded seconds remaining and a zero fee. Once the window has
// passed it returns zero seconds and reports that a remote lookup is due; the
// returned CurrentFee is zero and must be filled by Fetch.
func (p *Policy) Countdown(createdAt, now time.Time) (FeeState, bool) {
	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
	}

	if elapsed <= p.window {
		remaining := math.Round((p.window - elapsed).Seconds())
		return FeeState{FreeSecondsRemaining: int(remaining)}, false
	}

	return FeeState{}, true
}

// Fetch asks the remote service for the current fee. On failure, or when the
// service reports that no fee applies, the previous fee is returned unchanged.
func (p *Policy) Fetch(ctx context.Context, bookingID string, previous float64) (float64, error) {
	estimate, err := p.estimator.EstimateCancelFee(ctx, bookingID)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("booking_id", bookingID).
			Msg("cancellation fee lookup failed, keeping previous fee")
		return previous, err
	}

	if !estimate.FeeApplied {
		return previous, nil
	}
	return estimate.CancellationFee, nil
}

// FeeState combines Countdown and Fetch. The error is informational: the
// returned state is always displayable.
func (p *Policy) FeeState(ctx context.Context, bookingID string, createdAt, now time.Time, previous FeeState) (FeeState, error) {
	state, due := p.Countdown(createdAt, now)
	if !due {
		return state, nil
	}

	fee, err := p.Fetch(ctx, bookingID, previous.CurrentFee)
	state.CurrentFee = fee
	return state, err
}

// RebookFee returns the fee for cancelling the booking as part of a rebook.
// Lookup failures count as no fee.
func (p *Policy) RebookFee(ctx context.Context, bookingID string) float64 {
	estimate, err := p.estimator.EstimateCancelFee(ctx, bookingID)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("booking_id", bookingID).
			Msg("rebook fee lookup failed, assuming no fee")
		return 0
	}
	if !estimate.FeeApplied {
		return 0
	}
	return estimate.CancellationFee
}
