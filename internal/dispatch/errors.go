package dispatch

import (
	"errors"
	"fmt"
)

// Dispatch errors. Each is returned wrapped in an *Error carrying the
// message shown to riders.
var (
	ErrLocationNotFound = errors.New("location not found")
	ErrNoTaxis          = errors.New("no taxis available")
	ErrTaxiUnavailable  = errors.New("taxi unavailable")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrInvalidQuote     = errors.New("invalid quote")
)

// Rider-facing messages.
const (
	MsgNoTaxis         = "No taxis available for estimate"
	MsgTaxiUnavailable = "Taxi just became unavailable. Please re-quote."
	MsgBookingNotFound = "Booking not found"
)

// Error is a rejection with a rider-facing message.
type Error struct {
	Err     error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func reject(err error, message string) *Error {
	return &Error{Err: err, Message: message}
}

func locationNotFound(address string, cause error) *Error {
	return &Error{
		Err:     fmt.Errorf("%w: %w", ErrLocationNotFound, cause),
		Message: fmt.Sprintf("Location not found: '%s'", address),
	}
}

// Message returns the rider-facing message of err, or "" for internal errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
