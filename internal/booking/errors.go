package booking

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for booking operations.
var (
	ErrRemoteUnavailable = errors.New("dispatch service unavailable")
	ErrNotFound          = errors.New("booking not found")
	ErrRejected          = errors.New("request rejected by dispatch service")
	ErrInvalidResponse   = errors.New("invalid response from dispatch service")

	ErrNoBooking      = errors.New("no active booking")
	ErrBookingActive  = errors.New("a booking is already active")
	ErrNotCancellable = errors.New("booking can only be cancelled before the taxi arrives")
	ErrNotRebookable  = errors.New("booking can only be rebooked before the taxi arrives")
	ErrClosed         = errors.New("booking service closed")
)

// Fallback messages shown when the remote service gives no detail.
const (
	MsgQuoteFailed         = "Failed to get quote."
	MsgConfirmFailed       = "Failed to confirm booking. Try getting a new quote."
	MsgCancelFailed        = "Failed to cancel booking."
	MsgRebookQuoteFailed   = "Failed to get rebooking quote. Try again."
	MsgRebookConfirmFailed = "Failed to confirm rebooking. The old booking remains active."
)

// Error is a failed call to the dispatch service.
type Error struct {
	Op         string
	StatusCode int
	Code       string
	// Detail is the human-readable reason given by the server, shown verbatim.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("dispatch %s: %s (status %d)", e.Op, e.Detail, e.StatusCode)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("dispatch %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dispatch %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the same request may succeed later.
func (e *Error) IsRetryable() bool {
	if e.StatusCode == 0 {
		return errors.Is(e.Err, ErrRemoteUnavailable)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// DisplayMessage returns the server's detail for err if there is one,
// otherwise fallback.
func DisplayMessage(err error, fallback string) string {
	var bErr *Error
	if errors.As(err, &bErr) && bErr.Detail != "" {
		return bErr.Detail
	}
	return fallback
}
