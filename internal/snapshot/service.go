// Package snapshot caches pipeline results for the presentation layer.
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/pipeline"
)

const (
	cacheProvider  = "pipeline"
	cacheOperation = "congestion"
)

// Runner computes a fresh congestion result.
type Runner interface {
	Run(ctx context.Context, cfg pipeline.Config) (*pipeline.Result, error)
}

// CacheRecorder counts cache hits and misses.
type CacheRecorder interface {
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
}

// ServiceConfig holds configuration for the snapshot service.
type ServiceConfig struct {
	// Runner computes results.
	Runner Runner

	// Pipeline is the configuration passed to every run.
	Pipeline pipeline.Config

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long a result is served without recomputing (default: 5 minutes).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving an older result when a run fails (default: 30 minutes).
	StaleIfErrorTTL time.Duration

	// Metrics, when set, records cache hits and misses.
	Metrics CacheRecorder

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// Service serves the latest congestion result with caching.
type Service struct {
	runner          Runner
	cfg             pipeline.Config
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration
	metrics         CacheRecorder
	now             func() time.Time

	mu          sync.RWMutex
	result      *pipeline.Result
	fetchedAt   time.Time
	cacheExpiry time.Time
	lastErr     error
}

// NewService creates a new snapshot service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 30 * time.Minute
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		runner:          cfg.Runner,
		cfg:             cfg.Pipeline,
		logger:          cfg.Logger.With().Str("component", "snapshot").Logger(),
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
		metrics:         cfg.Metrics,
		now:             now,
	}
}

// Current returns the cached result, recomputing it when expired. When the
// recomputation fails within the stale-if-error window it returns a copy of
// the previous result with Stale and Age set.
func (s *Service) Current(ctx context.Context) (*pipeline.Result, error) {
	s.mu.RLock()
	if s.result != nil && s.now().Before(s.cacheExpiry) {
		result := s.result
		s.mu.RUnlock()
		s.recordCache(true)
		return result, nil
	}
	s.mu.RUnlock()

	s.recordCache(false)
	return s.refresh(ctx, false)
}

// Refresh recomputes the result regardless of the cache.
func (s *Service) Refresh(ctx context.Context) (*pipeline.Result, error) {
	return s.refresh(ctx, true)
}

// Invalidate clears the cached result.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = nil
	s.cacheExpiry = time.Time{}
}

// CacheStatus represents the current state of the cache.
type CacheStatus struct {
	HasData    bool
	RunID      string
	Provenance pipeline.Provenance
	FetchedAt  time.Time
	ExpiresAt  time.Time
	IsExpired  bool
	IsStale    bool
	Segments   int
	LastError  string
}

// CacheStatus returns information about the current cache state.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := CacheStatus{}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	if s.result == nil {
		return status
	}

	now := s.now()
	status.HasData = true
	status.RunID = s.result.RunID
	status.Provenance = s.result.Provenance
	status.FetchedAt = s.fetchedAt
	status.ExpiresAt = s.cacheExpiry
	status.IsExpired = now.After(s.cacheExpiry)
	status.IsStale = now.After(s.fetchedAt.Add(s.staleIfErrorTTL))
	status.Segments = len(s.result.Features)
	return status
}

func (s *Service) refresh(ctx context.Context, force bool) (*pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if !force && s.result != nil && s.now().Before(s.cacheExpiry) {
		return s.result, nil
	}

	s.logger.Debug().Bool("forced", force).Msg("refreshing congestion snapshot")

	result, err := s.runner.Run(ctx, s.cfg)
	if err != nil {
		s.lastErr = err
		s.logger.Error().Err(err).Msg("failed to compute congestion snapshot")

		if s.result != nil && s.now().Before(s.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", s.fetchedAt).
				Str("run_id", s.result.RunID).
				Msg("serving stale congestion snapshot due to pipeline error")
			stale := *s.result
			stale.Stale = true
			stale.Age = s.now().Sub(s.fetchedAt)
			return &stale, nil
		}
		return nil, err
	}

	s.result = result
	s.lastErr = nil
	s.fetchedAt = s.now()
	s.cacheExpiry = s.fetchedAt.Add(s.cacheTTL)

	s.logger.Info().
		Str("run_id", result.RunID).
		Str("provenance", string(result.Provenance)).
		Int("segments", len(result.Features)).
		Time("expires_at", s.cacheExpiry).
		Msg("congestion snapshot refreshed")

	return result, nil
}

func (s *Service) recordCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RecordCacheHit(cacheProvider, cacheOperation)
	} else {
		s.metrics.RecordCacheMiss(cacheProvider, cacheOperation)
	}
}
