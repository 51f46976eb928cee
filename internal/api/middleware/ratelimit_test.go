package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taxiride/tripsim/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, remoteAddr, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP_AllowsWithinLimit(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.PerMinute(5))(okHandler())

	for i := 0; i < 5; i++ {
		rec := serveFrom(handler, "192.168.1.1:12345", "/booking/estimate")
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should be allowed", i+1)
	}
}

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.PerMinute(3))(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, "10.0.0.1:12345", "/booking/estimate").Code)
	}

	rec := serveFrom(handler, "10.0.0.1:12345", "/booking/estimate")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_DifferentIPsHaveSeparateLimits(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.PerMinute(2))(okHandler())

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, "172.16.0.1:12345", "/taxis").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(handler, "172.16.0.1:12345", "/taxis").Code)
	assert.Equal(t, http.StatusOK, serveFrom(handler, "172.16.0.2:12345", "/taxis").Code)
}

func TestRateLimitByIP_ZeroDisables(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.PerMinute(0))(okHandler())

	for i := 0; i < 50; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, "10.1.1.1:1", "/taxis").Code)
	}
}

func TestRateLimitExceededResponse_Format(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: 30 * time.Second}
	handler := middleware.RequestID(middleware.RateLimitByIP(cfg)(okHandler()))

	assert.Equal(t, http.StatusOK, serveFrom(handler, "203.0.113.1:12345", "/booking/confirm").Code)

	rec := serveFrom(handler, "203.0.113.1:12345", "/booking/confirm")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	body := rec.Body.String()
	assert.Contains(t, body, "too-many-requests")
	assert.Contains(t, body, "/booking/confirm")
}

func TestDefaultRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 30, middleware.QuoteRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.QuoteRateLimit.WindowLength)
	assert.Equal(t, 120, middleware.StandardRateLimit.RequestLimit)
	assert.Equal(t, middleware.StandardRateLimit, middleware.PerMinute(120))
}
