// Package worker consumes control messages for the dispatch service.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job types accepted on the control subscription.
const (
	JobFleetReset    = "fleet_reset"
	JobHealthCheck   = "health_check"
	JobWeatherPurge  = "weather_purge"
	defaultJobTimeout = 30 * time.Second
)

// ErrUnknownJob is returned for messages whose job type has no handler.
var ErrUnknownJob = errors.New("unknown job type")

// Message is the JSON body of a control message.
type Message struct {
	JobType string `json:"job_type"`
}

// FleetResetter restores the taxi fleet to its initial state.
type FleetResetter interface {
	ResetTaxis(ctx context.Context) error
}

// HealthChecker reports whether the dispatch stores are reachable.
type HealthChecker interface {
	Ready(ctx context.Context) error
}

// CachePurger drops cached provider data.
type CachePurger interface {
	InvalidateCache()
}

// RunnerConfig holds the job targets. Nil targets disable their job type.
type RunnerConfig struct {
	Fleet   FleetResetter
	Health  HealthChecker
	Weather CachePurger
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Runner decodes and executes control jobs.
type Runner struct {
	fleet   FleetResetter
	health  HealthChecker
	weather CachePurger
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	metrics JobMetrics
}

// JobMetrics tracks job outcomes.
type JobMetrics struct {
	Processed   int64
	Failed      int64
	Unknown     int64
	LastJobType string
	LastJobAt   time.Time
	LastError   string
}

// NewRunner creates a job runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultJobTimeout
	}
	return &Runner{
		fleet:   cfg.Fleet,
		health:  cfg.Health,
		weather: cfg.Weather,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Handle decodes data and runs the job it names. Malformed bodies and
// unknown job types wrap ErrUnknownJob so callers can drop them instead
// of asking for redelivery.
func (r *Runner) Handle(ctx context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.record("", fmt.Errorf("%w: %v", ErrUnknownJob, err))
		return fmt.Errorf("%w: decoding message: %v", ErrUnknownJob, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.run(ctx, msg.JobType)
	r.record(msg.JobType, err)
	return err
}

func (r *Runner) run(ctx context.Context, jobType string) error {
	switch jobType {
	case JobFleetReset:
		if r.fleet != nil {
			return r.fleet.ResetTaxis(ctx)
		}
	case JobHealthCheck:
		if r.health != nil {
			return r.health.Ready(ctx)
		}
	case JobWeatherPurge:
		if r.weather != nil {
			r.weather.InvalidateCache()
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownJob, jobType)
}

func (r *Runner) record(jobType string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.LastJobType = jobType
	r.metrics.LastJobAt = time.Now()
	switch {
	case err == nil:
		r.metrics.Processed++
		r.metrics.LastError = ""
	case errors.Is(err, ErrUnknownJob):
		r.metrics.Unknown++
		r.metrics.LastError = err.Error()
	default:
		r.metrics.Failed++
		r.metrics.LastError = err.Error()
	}
}

// GetMetrics returns a copy of the job metrics.
func (r *Runner) GetMetrics() JobMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}
