package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/taxiride/tripsim/internal/api/models"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// Requests per window. Zero disables the limit.
	RequestLimit int
	// Window duration
	WindowLength time.Duration
}

// Default rate limit configurations.
var (
	// QuoteRateLimit applies to estimates, which geocode and fetch weather (30 req/min).
	QuoteRateLimit = RateLimitConfig{
		RequestLimit: 30,
		WindowLength: time.Minute,
	}

	// StandardRateLimit applies to the remaining booking and fleet endpoints (120 req/min).
	StandardRateLimit = RateLimitConfig{
		RequestLimit: 120,
		WindowLength: time.Minute,
	}
)

// PerMinute returns a per-minute limit of n requests.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestLimit: n, WindowLength: time.Minute}
}

// RateLimitByIP creates a rate limiter middleware keyed on the client IP.
// A zero RequestLimit yields a pass-through middleware.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(rateLimitExceededHandler(cfg.WindowLength)),
	)
}

// rateLimitExceededHandler writes an RFC 7807 problem when the limit is hit.
// httprate does not expose the reset time, so Retry-After is the full window.
func rateLimitExceededHandler(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
		problem.Instance = r.URL.Path

		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
