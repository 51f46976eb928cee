package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxiride/tripsim/internal/api/middleware"
	"github.com/taxiride/tripsim/internal/api/models"
)

func TestRecovery_ConvertsPanicToProblem(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.RequestID(middleware.Recovery(zerolog.New(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("taxi store exploded")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/booking/confirm", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "/booking/confirm", problem.Instance)
	assert.NotEmpty(t, problem.TraceID)
	assert.NotContains(t, rec.Body.String(), "exploded")

	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "taxi store exploded")
}

func TestRecovery_ReraisesAbortHandler(t *testing.T) {
	handler := middleware.Recovery(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/taxis", http.NoBody))
	})
}

func TestRecovery_NoPanic(t *testing.T) {
	rec := httptest.NewRecorder()
	middleware.Recovery(zerolog.Nop())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/taxis", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}
