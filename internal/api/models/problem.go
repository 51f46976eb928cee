package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error response. Detail is the text riders see.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"traceId"`

	// Code is a stable machine-readable reason, e.g. "taxi_unavailable".
	Code string `json:"code,omitempty"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem types.
const (
	ProblemTypeValidation      = "https://tripsim.dev/problems/validation-error"
	ProblemTypeRejected        = "https://tripsim.dev/problems/booking-rejected"
	ProblemTypeNotFound        = "https://tripsim.dev/problems/not-found"
	ProblemTypeTooManyRequests = "https://tripsim.dev/problems/too-many-requests"
	ProblemTypeInternal        = "https://tripsim.dev/problems/internal-error"
	ProblemTypeUnavailable     = "https://tripsim.dev/problems/service-unavailable"
)

// Problem codes for booking rejections.
const (
	CodeLocationNotFound = "location_not_found"
	CodeNoTaxis          = "no_taxis"
	CodeTaxiUnavailable  = "taxi_unavailable"
	CodeInvalidQuote     = "invalid_quote"
	CodeBookingNotFound  = "booking_not_found"
)

// NewProblem creates a new Problem with the given parameters.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail adds a detail message to the Problem.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithCode sets the machine-readable reason.
func (p *Problem) WithCode(code string) *Problem {
	p.Code = code
	return p
}

// WithInstance adds the request instance URI to the Problem.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest creates a 400 problem for malformed input.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID)
	p.Detail = detail
	p.Errors = errors
	return p
}

// NewRejected creates a 400 problem for a booking the dispatcher refused.
func NewRejected(traceID, code, detail string) *Problem {
	p := NewProblem(ProblemTypeRejected, "Booking rejected", http.StatusBadRequest, traceID)
	p.Code = code
	p.Detail = detail
	return p
}

// NewNotFound creates a 404 Not Found problem.
func NewNotFound(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID)
	p.Detail = detail
	return p
}

// NewTooManyRequests creates a 429 Too Many Requests problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID)
	p.Detail = detail
	return p
}

// NewInternalError creates a 500 Internal Server Error problem.
func NewInternalError(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID)
	p.Detail = detail
	return p
}

// NewServiceUnavailable creates a 503 Service Unavailable problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID)
	p.Detail = detail
	return p
}
