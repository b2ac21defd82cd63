package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/pipeline"
)

// Refresher recomputes the congestion snapshot.
type Refresher interface {
	Refresh(ctx context.Context) (*pipeline.Result, error)
}

// RefreshJob refreshes the congestion snapshot on a schedule and on demand.
type RefreshJob struct {
	config    RefreshConfig
	refresher Refresher
	logger    zerolog.Logger
	now       func() time.Time

	// Serializes runs; a trigger during a scheduled run waits for it.
	runMu sync.Mutex

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRefreshes      int64
	SuccessfulRefreshes int64
	FailedRefreshes     int64
	SyntheticRefreshes  int64
	ConsecutiveFailures int

	// Last run
	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	LastRunID           string
	LastProvenance      string
	LastError           string
	TotalDuration       time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config    RefreshConfig
	Refresher Refresher
	Logger    zerolog.Logger

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RefreshJob{
		config:    cfg.Config.withDefaults(),
		refresher: cfg.Refresher,
		logger:    cfg.Logger.With().Str("job", "congestion_refresh").Logger(),
		now:       now,
		metrics:   &RefreshMetrics{},
	}
}

// RefreshResult contains the result of one refresh.
type RefreshResult struct {
	Trigger        string
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	RunID          string
	Provenance     string
	FallbackReason string
	Segments       int
	Err            error
}

// Run refreshes the snapshot once. trigger names the cause for logs
// ("schedule", "pubsub", "startup").
func (j *RefreshJob) Run(ctx context.Context, trigger string) *RefreshResult {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	result := &RefreshResult{Trigger: trigger, StartTime: j.now()}

	runCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	j.logger.Debug().Str("trigger", trigger).Msg("starting congestion refresh")

	res, err := j.refresher.Refresh(runCtx)
	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	if err != nil {
		result.Err = err
		j.logger.Error().
			Err(err).
			Str("trigger", trigger).
			Dur("duration", result.Duration).
			Msg("congestion refresh failed")
	} else {
		result.RunID = res.RunID
		result.Provenance = string(res.Provenance)
		result.FallbackReason = res.FallbackReason
		result.Segments = len(res.Features)

		event := j.logger.Info()
		if res.Synthetic() {
			event = j.logger.Warn().Str("fallback_reason", res.FallbackReason)
		}
		event.
			Str("trigger", trigger).
			Str("run_id", res.RunID).
			Str("provenance", result.Provenance).
			Int("segments", result.Segments).
			Dur("duration", result.Duration).
			Msg("congestion refresh completed")
	}

	j.updateMetrics(result)
	return result
}

// Start runs the job on every interval until ctx is cancelled.
func (j *RefreshJob) Start(ctx context.Context) {
	j.logger.Info().
		Dur("interval", j.config.Interval).
		Dur("timeout", j.config.Timeout).
		Msg("starting refresh loop")

	if j.config.RunOnStart {
		j.Run(ctx, "startup")
	}

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("refresh loop stopped")
			return
		case <-ticker.C:
			j.Run(ctx, "schedule")
		}
	}
}

// Healthy reports whether the job has fewer consecutive failures than allowed.
func (j *RefreshJob) Healthy() bool {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()
	return j.metrics.ConsecutiveFailures < j.config.MaxConsecutiveFailures
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration

	if result.Err != nil {
		j.metrics.FailedRefreshes++
		j.metrics.ConsecutiveFailures++
		j.metrics.LastError = result.Err.Error()
		return
	}

	j.metrics.SuccessfulRefreshes++
	j.metrics.ConsecutiveFailures = 0
	j.metrics.LastError = ""
	j.metrics.LastRunID = result.RunID
	j.metrics.LastProvenance = result.Provenance
	if result.Provenance == string(pipeline.ProvenanceSynthetic) {
		j.metrics.SyntheticRefreshes++
	}
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SuccessfulRefreshes: j.metrics.SuccessfulRefreshes,
		FailedRefreshes:     j.metrics.FailedRefreshes,
		SyntheticRefreshes:  j.metrics.SyntheticRefreshes,
		ConsecutiveFailures: j.metrics.ConsecutiveFailures,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		LastRunID:           j.metrics.LastRunID,
		LastProvenance:      j.metrics.LastProvenance,
		LastError:           j.metrics.LastError,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefreshes,
		"failed_refreshes":      m.FailedRefreshes,
		"synthetic_refreshes":   m.SyntheticRefreshes,
		"consecutive_failures":  m.ConsecutiveFailures,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"last_run_id":           m.LastRunID,
		"last_provenance":       m.LastProvenance,
		"last_error":            m.LastError,
		"total_duration":        m.TotalDuration.String(),
	}
}
