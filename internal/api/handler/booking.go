package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/api/middleware"
	"github.com/taxiride/tripsim/internal/api/models"
	"github.com/taxiride/tripsim/internal/api/response"
	"github.com/taxiride/tripsim/internal/booking"
	"github.com/taxiride/tripsim/internal/dispatch"
	"github.com/taxiride/tripsim/internal/fleet"
	"github.com/taxiride/tripsim/internal/policy"
)

const maxQuoteBytes = 64 << 10

// Dispatcher is the dispatch service as seen by the HTTP layer.
type Dispatcher interface {
	Estimate(ctx context.Context, pickup, drop string) (*booking.Quote, error)
	Confirm(ctx context.Context, q booking.Quote) (*booking.Booking, error)
	EstimateCancelFee(ctx context.Context, id string) (*policy.FeeEstimate, error)
	Cancel(ctx context.Context, id string) (*booking.CancelResult, error)
	ListTaxis(ctx context.Context) ([]fleet.Taxi, error)
	ResetTaxis(ctx context.Context) error
}

// BookingHandler serves quotes, bookings and cancellations.
type BookingHandler struct {
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(d Dispatcher, logger zerolog.Logger) *BookingHandler {
	return &BookingHandler{dispatcher: d, logger: logger}
}

// Estimate handles POST /booking/estimate?pickup=...&drop=...
func (h *BookingHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	pickup := strings.TrimSpace(r.URL.Query().Get("pickup"))
	drop := strings.TrimSpace(r.URL.Query().Get("drop"))

	var fieldErrs []models.FieldError
	if pickup == "" {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "pickup", Message: "field required", Code: "REQUIRED"})
	}
	if drop == "" {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "drop", Message: "field required", Code: "REQUIRED"})
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "pickup and drop are required", fieldErrs)
		return
	}

	quote, err := h.dispatcher.Estimate(r.Context(), pickup, drop)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, quote)
}

// Confirm handles POST /booking/confirm with a quote as body.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var quote booking.Quote
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuoteBytes))
	if err := dec.Decode(&quote); err != nil {
		response.BadRequest(w, r, "request body must be a quote", nil)
		return
	}

	b, err := h.dispatcher.Confirm(r.Context(), quote)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, b)
}

// EstimateCancelFee handles GET /booking/estimate_cancel_fee/{bookingID}.
func (h *BookingHandler) EstimateCancelFee(w http.ResponseWriter, r *http.Request) {
	est, err := h.dispatcher.EstimateCancelFee(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, est)
}

// Cancel handles POST /booking/cancel/{bookingID}.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.dispatcher.Cancel(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, res)
}

// ListTaxis handles GET /taxis.
func (h *BookingHandler) ListTaxis(w http.ResponseWriter, r *http.Request) {
	taxis, err := h.dispatcher.ListTaxis(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if taxis == nil {
		taxis = []fleet.Taxi{}
	}
	response.JSON(w, r, http.StatusOK, taxis)
}

// ResetTaxis handles POST /taxis/reset.
func (h *BookingHandler) ResetTaxis(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.ResetTaxis(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.StatusOK{Status: "OK"})
}

// writeError maps dispatch errors to problems. Rejections carry their rider
// message as detail; anything else is logged and reported as a 500.
func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	msg := dispatch.Message(err)

	switch {
	case errors.Is(err, dispatch.ErrBookingNotFound):
		response.NotFound(w, r, models.CodeBookingNotFound, msg)
	case msg != "":
		response.Rejected(w, r, rejectionCode(err), msg)
	default:
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("dispatch request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrLocationNotFound):
		return models.CodeLocationNotFound
	case errors.Is(err, dispatch.ErrNoTaxis):
		return models.CodeNoTaxis
	case errors.Is(err, dispatch.ErrTaxiUnavailable):
		return models.CodeTaxiUnavailable
	case errors.Is(err, dispatch.ErrInvalidQuote):
		return models.CodeInvalidQuote
	default:
		return ""
	}
}
