package dispatchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/booking"
	"github.com/taxiride/tripsim/internal/provider/resilience"
)

const quoteJSON = `{
	"id": "q-1",
	"taxi": "T2",
	"pickup": "Connaught Place",
	"drop": "Airport",
	"distance_km": 15.2,
	"eta_min": 36,
	"weather": "Rain",
	"fare": 303.0,
	"pickup_lat": 28.6139, "pickup_lng": 77.209,
	"drop_lat": 28.5562, "drop_lng": 77.1,
	"taxi_start_lat": 28.62, "taxi_start_lng": 77.21,
	"taxi_eta_min": 2,
	"taxi_distance_km": 0.9
}`

func newTestClient(server *httptest.Server) *Client {
	return NewClient(ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})
}

func TestClient_Estimate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/booking/estimate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("pickup"); got != "Connaught Place" {
			t.Errorf("expected pickup query, got %q", got)
		}
		if got := r.URL.Query().Get("drop"); got != "Airport" {
			t.Errorf("expected drop query, got %q", got)
		}
		if r.Header.Get(resilience.IdempotencyKeyHeader) == "" {
			t.Error("expected an idempotency key")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(quoteJSON))
	}))
	defer server.Close()

	q, err := newTestClient(server).Estimate(context.Background(), "Connaught Place", "Airport")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Taxi != "T2" || q.Fare != 303.0 || q.TaxiDistanceKm != 0.9 {
		t.Errorf("unexpected quote %+v", q)
	}
	if q.PickupCoordinate().Lat != 28.6139 {
		t.Errorf("unexpected pickup %v", q.PickupCoordinate())
	}
}

func TestClient_EstimateRetriedThroughResilientClient(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(quoteJSON))
	}))
	defer server.Close()

	cfg := resilience.DefaultClientConfig(ProviderName)
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	client := NewClient(ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: resilience.NewClient(cfg),
		Logger:     zerolog.Nop(),
	})

	if _, err := client.Estimate(context.Background(), "a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestClient_Confirm(t *testing.T) {
	tests := []struct {
		name      string
		createdAt string
		want      time.Time
	}{
		{"rfc3339", "2025-03-01T09:00:00Z", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		{"naive", "2025-03-01T09:00:00.250000", time.Date(2025, 3, 1, 9, 0, 0, 250_000_000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/booking/confirm" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("expected JSON body")
				}
				var q map[string]any
				if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
					t.Fatalf("decoding body: %v", err)
				}
				q["id"] = "b-1"
				q["created_at"] = tt.createdAt
				_ = json.NewEncoder(w).Encode(q)
			}))
			defer server.Close()

			var quote booking.Quote
			if err := json.Unmarshal([]byte(quoteJSON), &quote); err != nil {
				t.Fatal(err)
			}

			b, err := newTestClient(server).Confirm(context.Background(), quote)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.ID != "b-1" {
				t.Errorf("expected id b-1, got %s", b.ID)
			}
			if !b.CreatedAt.Equal(tt.want) {
				t.Errorf("expected created_at %v, got %v", tt.want, b.CreatedAt)
			}
			if b.Taxi != "T2" || b.Fare != 303.0 {
				t.Errorf("quote fields not carried over: %+v", b.Quote)
			}
		})
	}
}

func TestClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    error
		wantDetail string
		wantCode   string
	}{
		{
			name:       "plain detail",
			status:     http.StatusNotFound,
			body:       `{"detail":"Booking not found"}`,
			wantErr:    booking.ErrNotFound,
			wantDetail: "Booking not found",
		},
		{
			name:       "validation list",
			status:     http.StatusUnprocessableEntity,
			body:       `{"detail":[{"loc":["query","pickup"],"msg":"field required"}]}`,
			wantErr:    booking.ErrRejected,
			wantDetail: "pickup: field required",
		},
		{
			name:       "problem",
			status:     http.StatusBadRequest,
			body:       `{"type":"about:blank","title":"Bad Request","status":400,"detail":"Taxi just became unavailable. Please re-quote.","code":"TAXI_UNAVAILABLE"}`,
			wantErr:    booking.ErrRejected,
			wantDetail: "Taxi just became unavailable. Please re-quote.",
			wantCode:   "TAXI_UNAVAILABLE",
		},
		{
			name:    "unparseable",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: booking.ErrRemoteUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).Cancel(context.Background(), "b-1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			var bErr *booking.Error
			if !errors.As(err, &bErr) {
				t.Fatalf("expected *booking.Error, got %T", err)
			}
			if bErr.Detail != tt.wantDetail {
				t.Errorf("expected detail %q, got %q", tt.wantDetail, bErr.Detail)
			}
			if bErr.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, bErr.Code)
			}
			if bErr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, bErr.StatusCode)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client := newTestClient(server)
	server.Close()

	_, err := client.ListTaxis(context.Background())
	if !errors.Is(err, booking.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	var bErr *booking.Error
	if !errors.As(err, &bErr) || !bErr.IsRetryable() {
		t.Errorf("expected a retryable error, got %v", err)
	}
	if got := booking.DisplayMessage(err, booking.MsgQuoteFailed); got != booking.MsgQuoteFailed {
		t.Errorf("expected fallback message, got %q", got)
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"fee_applied":`))
	}))
	defer server.Close()

	_, err := newTestClient(server).EstimateCancelFee(context.Background(), "b-1")
	if !errors.Is(err, booking.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestClient_EstimateCancelFee(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/booking/estimate_cancel_fee/b 1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"fee_applied":true,"cancellation_fee":41.25}`))
	}))
	defer server.Close()

	est, err := newTestClient(server).EstimateCancelFee(context.Background(), "b 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !est.FeeApplied || est.CancellationFee != 41.25 {
		t.Errorf("unexpected estimate %+v", est)
	}
}

func TestClient_FleetAndHealth(t *testing.T) {
	var resets atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /taxis", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"T1","lat":28.61,"lng":77.2,"available":false},{"id":"S1","lat":28.6,"lng":77.25,"available":true}]`))
	})
	mux.HandleFunc("POST /taxis/reset", func(w http.ResponseWriter, _ *http.Request) {
		resets.Add(1)
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","message":"Backend running"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server)

	taxis, err := client.ListTaxis(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(taxis) != 2 || taxis[0].Available || !taxis[1].Simulated() {
		t.Errorf("unexpected taxis %+v", taxis)
	}

	if err := client.ResetTaxis(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if resets.Load() != 1 {
		t.Errorf("expected one reset, got %d", resets.Load())
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
