package resilience_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxiride/tripsim/internal/provider/resilience"
)

func fastConfig(name string) resilience.ClientConfig {
	cbConfig := resilience.DefaultCircuitBreakerConfig(name)
	cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.Requests >= 100
	}
	return resilience.ClientConfig{
		Name:            name,
		Timeout:         5 * time.Second,
		MaxRetries:      5,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		CircuitBreaker:  &cbConfig,
	}
}

func TestClient_SuccessfulRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"pong"}`))
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("dispatch")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/ping", http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := registry.GetHealth("dispatch")
	require.NotNil(t, health)
	assert.NotNil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)
}

func TestClient_RetriesIdempotentGetOn5xx(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("taxis"))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/taxis", http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_PostWithoutIdempotencyKeyIsNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("dispatch")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL+"/booking/cancel/b-1", http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
	assert.NotEmpty(t, registry.GetHealth("dispatch").LastError)
}

func TestClient_PostWithIdempotencyKeyResendsBody(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("dispatch"))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL+"/booking/estimate",
		bytes.NewReader([]byte(`{"pickup":"a"}`)))
	require.NoError(t, err)
	req.Header.Set(resilience.IdempotencyKeyHeader, "key-1")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"pickup":"a"}`, `{"pickup":"a"}`}, bodies)
}

func TestClient_ExhaustedRetriesReturnLastResponse(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"maintenance"}`))
	}))
	defer server.Close()

	cfg := fastConfig("dispatch")
	cfg.MaxRetries = 2
	client := resilience.NewClient(cfg)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"maintenance"}`, string(body))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_CircuitBreakerTrips(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cbConfig := resilience.CircuitBreakerConfig{
		Name:        "trip",
		MaxRequests: 1,
		Timeout:     time.Second,
		ReadyToTrip: resilience.DefaultReadyToTrip,
	}
	registry := resilience.NewRegistry()
	client := resilience.NewClient(resilience.ClientConfig{
		Name:           "trip",
		Timeout:        time.Second,
		MaxRetries:     -1,
		CircuitBreaker: &cbConfig,
		Registry:       registry,
	})

	for i := 0; i < 5; i++ {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
		require.NoError(t, err)
		resp, _ := client.Do(req)
		if resp != nil {
			resp.Body.Close()
		}
	}

	assert.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())
	assert.Equal(t, resilience.StatusUnhealthy, registry.Status())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestClient_TimeoutHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := fastConfig("timeout")
	cfg.Timeout = 100 * time.Millisecond
	cfg.MaxRetries = -1
	client := resilience.NewClient(cfg)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	assert.Error(t, err)
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("cancel"))

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	resp, err := client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	assert.Error(t, err)
}

func TestClient_4xxNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("not-found"))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/booking/estimate_cancel_fee/x", http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestIdempotent(t *testing.T) {
	tests := []struct {
		method string
		key    string
		want   bool
	}{
		{http.MethodGet, "", true},
		{http.MethodDelete, "", true},
		{http.MethodPost, "", false},
		{http.MethodPost, "abc", true},
		{http.MethodPatch, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.key, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", http.NoBody)
			if tt.key != "" {
				req.Header.Set(resilience.IdempotencyKeyHeader, tt.key)
			}
			assert.Equal(t, tt.want, resilience.Idempotent(req))
		})
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := resilience.DefaultCircuitBreakerConfig("dispatch")

	assert.Equal(t, "dispatch", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.NotNil(t, cfg.ReadyToTrip)
	assert.NotNil(t, cfg.IsSuccessful)
}

func TestDefaultReadyToTrip(t *testing.T) {
	tests := []struct {
		name     string
		counts   gobreaker.Counts
		expected bool
	}{
		{"too few requests", gobreaker.Counts{Requests: 4, TotalFailures: 2, ConsecutiveFailures: 2}, false},
		{"consecutive failures", gobreaker.Counts{Requests: 3, TotalFailures: 3, ConsecutiveFailures: 3}, true},
		{"half failing", gobreaker.Counts{Requests: 10, TotalFailures: 5}, true},
		{"mostly healthy", gobreaker.Counts{Requests: 10, TotalFailures: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resilience.DefaultReadyToTrip(tt.counts))
		})
	}
}

func TestDefaultIsSuccessful(t *testing.T) {
	assert.True(t, resilience.DefaultIsSuccessful(nil))
	assert.True(t, resilience.DefaultIsSuccessful(fmt.Errorf("estimate: %w", context.Canceled)))
	assert.False(t, resilience.DefaultIsSuccessful(context.DeadlineExceeded))
	assert.False(t, resilience.DefaultIsSuccessful(&resilience.ServerError{StatusCode: http.StatusBadGateway}))
}

func TestServerError(t *testing.T) {
	err := &resilience.ServerError{StatusCode: http.StatusBadGateway}
	assert.Equal(t, "server error: Bad Gateway", err.Error())
}

func TestClient_StandardClient(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}))
	defer server.Close()

	std := resilience.NewClient(fastConfig("geocoding")).StandardClient()

	resp, err := std.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}
