// Package api provides the HTTP API of the dispatch service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/taxiride/tripsim/internal/api/handler"
	"github.com/taxiride/tripsim/internal/api/middleware"
	"github.com/taxiride/tripsim/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	Dispatcher handler.Dispatcher
	Registry   *resilience.Registry
	Subsystems []handler.Subsystem

	// RateLimit is the per-IP requests per minute on booking and fleet
	// endpoints. Estimates get a quarter of it. Zero disables limiting.
	RateLimit int
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:    cfg.Version,
		BuildTime:  cfg.BuildTime,
		Registry:   cfg.Registry,
		Subsystems: cfg.Subsystems,
	})
	bookingHandler := handler.NewBookingHandler(cfg.Dispatcher, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.PerMinute(cfg.RateLimit))
	quoteRateLimit := middleware.RateLimitByIP(middleware.PerMinute(quoteLimit(cfg.RateLimit)))

	r.Get("/ping", opsHandler.Ping)

	r.Group(func(r chi.Router) {
		r.Use(standardRateLimit)

		r.With(quoteRateLimit).Post("/booking/estimate", bookingHandler.Estimate)
		r.With(middleware.RequireJSON).Post("/booking/confirm", bookingHandler.Confirm)
		r.Get("/booking/estimate_cancel_fee/{bookingID}", bookingHandler.EstimateCancelFee)
		r.Post("/booking/cancel/{bookingID}", bookingHandler.Cancel)

		r.Get("/taxis", bookingHandler.ListTaxis)
		r.Post("/taxis/reset", bookingHandler.ResetTaxis)
	})

	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)
		r.Get("/status", opsHandler.SystemStatus)
	})

	return r
}

func quoteLimit(perMinute int) int {
	if perMinute <= 0 {
		return 0
	}
	return max(1, perMinute/4)
}
