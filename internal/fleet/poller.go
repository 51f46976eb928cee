package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often the fleet is refreshed.
const DefaultPollInterval = 10 * time.Second

// Observer receives refresh outcomes.
type Observer interface {
	ObserveFleetRefresh(success bool, duration time.Duration, total, available int)
}

// PollerConfig holds configuration for creating a Poller.
type PollerConfig struct {
	Source   Source
	Interval time.Duration
	// Timeout bounds a single refresh. Default: 5 seconds
	Timeout  time.Duration
	Logger   zerolog.Logger
	Observer Observer
}

// Poller refreshes the fleet snapshot on an interval and on demand.
// A failed refresh keeps the previous snapshot.
type Poller struct {
	source   Source
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	observer Observer

	trigger chan struct{}

	mu       sync.RWMutex
	snapshot Snapshot

	metrics *RefreshMetrics
}

// RefreshMetrics tracks poller statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalRefreshes      int64
	SuccessfulRefreshes int64
	FailedRefreshes     int64
	TriggeredRefreshes  int64

	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	LastError           string
}

// NewPoller creates a new fleet poller.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Poller{
		source:   cfg.Source,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With().Str("component", "fleet_poller").Logger(),
		observer: cfg.Observer,
		trigger:  make(chan struct{}, 1),
		metrics:  &RefreshMetrics{},
	}
}

// Run refreshes immediately and then on every interval or trigger until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("fleet poller started")

	_ = p.Refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("fleet poller stopped")
			return
		case <-ticker.C:
			_ = p.Refresh(ctx)
		case <-p.trigger:
			p.metrics.mu.Lock()
			p.metrics.TriggeredRefreshes++
			p.metrics.mu.Unlock()
			_ = p.Refresh(ctx)
		}
	}
}

// Trigger requests an early refresh. Requests made while one is pending coalesce.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Refresh fetches the fleet once.
func (p *Poller) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	taxis, err := p.source.ListTaxis(ctx)
	duration := time.Since(start)

	p.metrics.mu.Lock()
	p.metrics.TotalRefreshes++
	p.metrics.LastRefreshAt = start
	p.metrics.LastRefreshDuration = duration
	if err != nil {
		p.metrics.FailedRefreshes++
		p.metrics.LastError = err.Error()
	} else {
		p.metrics.SuccessfulRefreshes++
		p.metrics.LastError = ""
	}
	p.metrics.mu.Unlock()

	if err != nil {
		p.logger.Warn().Err(err).Msg("fleet refresh failed, keeping previous snapshot")
		if p.observer != nil {
			p.observer.ObserveFleetRefresh(false, duration, 0, 0)
		}
		return err
	}

	snap := Snapshot{Taxis: taxis, FetchedAt: start}
	p.mu.Lock()
	p.snapshot = snap
	p.mu.Unlock()

	p.logger.Debug().
		Int("taxis", len(taxis)).
		Int("available", snap.Available()).
		Dur("duration", duration).
		Msg("fleet refreshed")

	if p.observer != nil {
		p.observer.ObserveFleetRefresh(true, duration, len(taxis), snap.Available())
	}
	return nil
}

// Snapshot returns the latest successful snapshot.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	taxis := make([]Taxi, len(p.snapshot.Taxis))
	copy(taxis, p.snapshot.Taxis)
	return Snapshot{Taxis: taxis, FetchedAt: p.snapshot.FetchedAt}
}

// GetMetrics returns a copy of the current metrics.
func (p *Poller) GetMetrics() RefreshMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      p.metrics.TotalRefreshes,
		SuccessfulRefreshes: p.metrics.SuccessfulRefreshes,
		FailedRefreshes:     p.metrics.FailedRefreshes,
		TriggeredRefreshes:  p.metrics.TriggeredRefreshes,
		LastRefreshAt:       p.metrics.LastRefreshAt,
		LastRefreshDuration: p.metrics.LastRefreshDuration,
		LastError:           p.metrics.LastError,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (p *Poller) MetricsSnapshot() map[string]interface{} {
	m := p.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefreshes,
		"failed_refreshes":      m.FailedRefreshes,
		"triggered_refreshes":   m.TriggeredRefreshes,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"last_error":            m.LastError,
	}
}
