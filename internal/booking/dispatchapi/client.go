// Package dispatchapi is the HTTP client of the dispatch service. It serves
// as the booking remote, the cancellation fee estimator and the fleet source
// of the rider process.
package dispatchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/booking"
	"github.com/taxiride/tripsim/internal/fleet"
	"github.com/taxiride/tripsim/internal/policy"
	"github.com/taxiride/tripsim/internal/provider/resilience"
)

const (
	// ProviderName identifies the dispatch service in the provider registry.
	ProviderName = "dispatch"

	// DefaultBaseURL is where the dispatch service listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the dispatch client.
type ClientConfig struct {
	// BaseURL is the dispatch service root (optional, defaults to localhost:8000).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client talks to the dispatch service.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a dispatch client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("provider", ProviderName).Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Estimate requests a quote. The request carries an idempotency key so the
// transport may retry it.
func (c *Client) Estimate(ctx context.Context, pickup, drop string) (*booking.Quote, error) {
	q := url.Values{}
	q.Set("pickup", pickup)
	q.Set("drop", drop)

	var quote booking.Quote
	err := c.do(ctx, request{
		op:             "estimate",
		method:         http.MethodPost,
		path:           "/booking/estimate",
		query:          q,
		idempotencyKey: uuid.NewString(),
	}, &quote)
	if err != nil {
		return nil, err
	}
	if quote.Taxi == "" {
		return nil, &booking.Error{Op: "estimate", StatusCode: http.StatusOK, Err: fmt.Errorf("%w: quote without taxi", booking.ErrInvalidResponse)}
	}

	c.logger.Debug().
		Str("taxi_id", quote.Taxi).
		Float64("fare", quote.Fare).
		Float64("taxi_distance_km", quote.TaxiDistanceKm).
		Msg("received quote")
	return &quote, nil
}

// Confirm books a quote.
func (c *Client) Confirm(ctx context.Context, quote booking.Quote) (*booking.Booking, error) {
	var wire bookingResponse
	err := c.do(ctx, request{
		op:     "confirm",
		method: http.MethodPost,
		path:   "/booking/confirm",
		body:   quote,
	}, &wire)
	if err != nil {
		return nil, err
	}

	b, err := wire.toBooking()
	if err != nil {
		return nil, &booking.Error{Op: "confirm", StatusCode: http.StatusOK, Err: fmt.Errorf("%w: %v", booking.ErrInvalidResponse, err)}
	}
	return b, nil
}

// Cancel cancels a booking. Cancelling twice fails with ErrNotFound since
// the service forgets cancelled bookings.
func (c *Client) Cancel(ctx context.Context, bookingID string) (*booking.CancelResult, error) {
	var res booking.CancelResult
	err := c.do(ctx, request{
		op:     "cancel",
		method: http.MethodPost,
		path:   "/booking/cancel/" + url.PathEscape(bookingID),
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// EstimateCancelFee returns what cancelling the booking would cost now.
func (c *Client) EstimateCancelFee(ctx context.Context, bookingID string) (*policy.FeeEstimate, error) {
	var est policy.FeeEstimate
	err := c.do(ctx, request{
		op:     "estimate_cancel_fee",
		method: http.MethodGet,
		path:   "/booking/estimate_cancel_fee/" + url.PathEscape(bookingID),
	}, &est)
	if err != nil {
		return nil, err
	}
	return &est, nil
}

// ListTaxis returns the fleet, fleet-managed taxis first.
func (c *Client) ListTaxis(ctx context.Context) ([]fleet.Taxi, error) {
	var taxis []fleet.Taxi
	if err := c.do(ctx, request{op: "list_taxis", method: http.MethodGet, path: "/taxis"}, &taxis); err != nil {
		return nil, err
	}
	return taxis, nil
}

// ResetTaxis makes every fleet-managed taxi available again.
func (c *Client) ResetTaxis(ctx context.Context) error {
	return c.do(ctx, request{op: "reset_taxis", method: http.MethodPost, path: "/taxis/reset"}, nil)
}

// Ping checks that the service is up.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, request{op: "ping", method: http.MethodGet, path: "/ping"}, nil)
}

type request struct {
	op             string
	method         string
	path           string
	query          url.Values
	body           any
	idempotencyKey string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader = http.NoBody
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", r.op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.idempotencyKey != "" {
		req.Header.Set(resilience.IdempotencyKeyHeader, r.idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", r.op).Msg("dispatch request failed")
		return &booking.Error{Op: r.op, Err: fmt.Errorf("%w: %w", booking.ErrRemoteUnavailable, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &booking.Error{Op: r.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: reading body: %w", booking.ErrRemoteUnavailable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(r.op, resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &booking.Error{Op: r.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %w", booking.ErrInvalidResponse, err)}
	}
	return nil
}

// handleErrorResponse maps a non-2xx answer to a *booking.Error carrying
// the server's detail.
func (c *Client) handleErrorResponse(op string, statusCode int, body []byte) error {
	detail, code := parseErrorBody(body)

	var sentinel error
	switch {
	case statusCode == http.StatusNotFound:
		sentinel = booking.ErrNotFound
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		sentinel = booking.ErrRemoteUnavailable
	default:
		sentinel = booking.ErrRejected
	}

	c.logger.Debug().
		Str("op", op).
		Int("status", statusCode).
		Str("detail", detail).
		Msg("dispatch returned an error")

	return &booking.Error{
		Op:         op,
		StatusCode: statusCode,
		Code:       code,
		Detail:     detail,
		Err:        sentinel,
	}
}
