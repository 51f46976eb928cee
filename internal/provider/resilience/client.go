package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// IdempotencyKeyHeader marks a non-GET request as safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client for circuit breaker naming and health reporting.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for idempotent requests.
	// Default: 3. Negative disables retries.
	MaxRetries int

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Registry, if set, receives this client and its request outcomes.
	Registry *Registry

	// Transport overrides the underlying round tripper.
	Transport http.RoundTripper
}

// DefaultClientConfig returns the configuration used for the dispatch service
// and other upstream providers.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cbConfig,
	}
}

// Client is an HTTP client with a circuit breaker and retries.
//
// Only idempotent requests are retried: GET, HEAD, OPTIONS, PUT, DELETE and
// any request carrying an Idempotency-Key header. Everything else gets a
// single attempt, still guarded by the breaker.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
	registry       *Registry
}

// NewClient creates a resilient HTTP client and registers it with
// cfg.Registry when one is set.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		config:         cfg,
		registry:       cfg.Registry,
	}

	if c.registry != nil {
		c.registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the client's provider name.
func (c *Client) Name() string {
	return c.config.Name
}

// StandardClient adapts c to an *http.Client for SDKs that only accept one,
// such as the Google Maps client.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{Transport: roundTripper{c}}
}

type roundTripper struct{ c *Client }

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.c.Do(req)
}

// Do executes req with circuit breaker protection, retrying idempotent
// requests on network errors and 5xx responses with exponential backoff.
// If every attempt ends in a 5xx, the last response is returned without an
// error so the caller can read the server's problem body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request with the given context.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil && Idempotent(req) {
		return nil, fmt.Errorf("resilience: retryable %s request needs GetBody", req.Method)
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if Idempotent(req) && c.config.MaxRetries > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.config.InitialInterval
		bo.MaxInterval = c.config.MaxInterval
		bo.MaxElapsedTime = 0
		policy = backoff.WithMaxRetries(bo, uint64(c.config.MaxRetries))
	}
	policy = backoff.WithContext(policy, ctx)

	var (
		lastResp *http.Response
		attempt  int
	)

	operation := func() error {
		if lastResp != nil {
			drain(lastResp)
			lastResp = nil
		}

		reqClone := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			reqClone.Body = body
		}
		attempt++

		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to caller
			r, err := c.httpClient.Do(reqClone)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			if resp != nil {
				lastResp = resp
			}
			return err
		}

		lastResp = resp
		return nil
	}

	err := backoff.Retry(operation, policy)
	if err != nil {
		c.recordFailure(err)
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}

	c.recordSuccess()
	return lastResp, nil
}

// Idempotent reports whether req may be sent more than once.
func Idempotent(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return req.Header.Get(IdempotencyKeyHeader) != ""
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func (c *Client) recordSuccess() {
	if c.registry != nil {
		c.registry.RecordSuccess(c.config.Name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.registry != nil {
		c.registry.RecordFailure(c.config.Name, err)
	}
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
