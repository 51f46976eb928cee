package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taxiride/tripsim/internal/api/middleware"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	var seen string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.True(t, strings.HasPrefix(seen, "req_"))
	assert.Len(t, seen, 26)
	assert.Equal(t, seen, w.Header().Get("X-Request-Id"))
}

func TestRequestID_PreservesCallerID(t *testing.T) {
	var seen string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/booking/confirm", nil)
	req.Header.Set("X-Request-Id", "rider-7f3a")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "rider-7f3a", seen)
	assert.Equal(t, "rider-7f3a", w.Header().Get("X-Request-Id"))
}

func TestRequestID_ReplacesInvalidCallerID(t *testing.T) {
	tests := map[string]string{
		"too long":  strings.Repeat("a", 65),
		"space":     "two words",
		"non-ascii": "reqé",
	}

	for name, id := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set("X-Request-Id", id)
			w := httptest.NewRecorder()
			middleware.RequestID(okHandler()).ServeHTTP(w, req)

			assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-Id"), "req_"))
		})
	}
}

func TestGetRequestID_ReturnsEmptyStringForMissingContext(t *testing.T) {
	assert.Empty(t, middleware.GetRequestID(context.Background()))
}

func TestWithRequestID(t *testing.T) {
	ctx := middleware.WithRequestID(context.Background(), "job_fleet_reset")
	assert.Equal(t, "job_fleet_reset", middleware.GetRequestID(ctx))
}

func TestRequestID_UniqueIDs(t *testing.T) {
	handler := middleware.RequestID(okHandler())
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		id := w.Header().Get("X-Request-Id")
		assert.False(t, ids[id], "duplicate request ID generated: %s", id)
		ids[id] = true
	}
}
