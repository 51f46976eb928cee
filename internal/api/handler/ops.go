// Package handler provides the HTTP handlers of the dispatch API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/taxiride/tripsim/internal/api/models"
	"github.com/taxiride/tripsim/internal/api/response"
	"github.com/taxiride/tripsim/internal/provider/resilience"
)

// Pinger is a dependency whose reachability can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Subsystem is a named dependency reported by the status endpoint.
type Subsystem struct {
	Name   string
	Pinger Pinger
}

// OpsConfig configures the operational endpoints.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Registry supplies upstream provider health (optional).
	Registry *resilience.Registry

	// Subsystems are probed by the readiness and status endpoints.
	Subsystems []Subsystem

	// ProbeTimeout bounds each subsystem probe (default 2s).
	ProbeTimeout time.Duration

	Now func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpsHandler{cfg: cfg}
}

// Ping handles GET /ping.
func (h *OpsHandler) Ping(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.StatusOK{Status: "OK", Message: "Backend running"})
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. It answers 503 while any
// subsystem is unreachable.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.probe(r.Context())

	health := models.Health{Status: models.HealthStatusOK, Time: models.Timestamp(h.cfg.Now())}
	status := http.StatusOK
	for _, s := range subsystems {
		if s.Status != models.HealthStatusOK {
			health.Status = models.HealthStatusFail
			if health.Details == nil {
				health.Details = map[string]interface{}{}
			}
			health.Details[s.Name] = *s.Detail
			status = http.StatusServiceUnavailable
		}
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - subsystem and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.cfg.Now()),
		Subsystems: h.probe(r.Context()),
		Providers:  h.providers(),
	}

	for _, s := range status.Subsystems {
		if s.Status == models.HealthStatusFail {
			status.Status = models.HealthStatusFail
		}
	}
	if status.Status == models.HealthStatusOK {
		for _, p := range status.Providers {
			if p.Status != models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) probe(ctx context.Context) []models.SubsystemStatus {
	out := make([]models.SubsystemStatus, 0, len(h.cfg.Subsystems))
	for _, s := range h.cfg.Subsystems {
		st := models.SubsystemStatus{Name: s.Name, Status: models.HealthStatusOK}

		probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
		err := s.Pinger.Ping(probeCtx)
		cancel()
		if err != nil {
			detail := err.Error()
			st.Status = models.HealthStatusFail
			st.Detail = &detail
		}
		out = append(out, st)
	}
	return out
}

func (h *OpsHandler) providers() []models.ProviderStatus {
	if h.cfg.Registry == nil {
		return []models.ProviderStatus{}
	}

	all := h.cfg.Registry.GetAllHealth()
	out := make([]models.ProviderStatus, 0, len(all))
	for _, ph := range all {
		ps := models.ProviderStatus{
			Provider: ph.Name,
			Status:   models.HealthStatusOK,
			Circuit:  ph.CircuitState.String(),
		}
		switch {
		case ph.IsUnhealthy():
			ps.Status = models.HealthStatusFail
		case ph.IsDegraded():
			ps.Status = models.HealthStatusDegraded
		}
		if ph.LastSuccessAt != nil {
			ts := models.Timestamp(*ph.LastSuccessAt)
			ps.LastSuccessAt = &ts
		}
		if ph.LastFailureAt != nil {
			ts := models.Timestamp(*ph.LastFailureAt)
			ps.LastFailureAt = &ts
		}
		if ph.LastError != "" {
			msg := ph.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}
